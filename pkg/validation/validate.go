// Handles all sorts of custom data validations happening in Shipper.

package validation

import (
	"strings"

	"github.com/asaskevich/govalidator"
)

// Characters that would turn an id into a broker subscription pattern.
const globChars = "*?[]"

// This function registers custom validation tags to be used as annotations in struct.
// After registering and adding the annotation, govalidator.ValidateStruct will trigger the validation.
// knownEvent decides which strings the "eventtype" tag accepts.
func RegisterCustomValidations(knownEvent func(string) bool) {
	// This custom validation checks if there's any whitespace in the input string.
	govalidator.TagMap["nospace"] = govalidator.Validator(func(str string) bool {
		return !govalidator.HasWhitespace(str)
	})
	// Ids end up in channel names, they may not contain whitespace or glob characters.
	govalidator.TagMap["channelid"] = govalidator.Validator(ValidChannelID)
	govalidator.TagMap["eventtype"] = govalidator.Validator(func(str string) bool {
		return knownEvent != nil && knownEvent(str)
	})
}

// ValidChannelID reports whether id can be embedded in a channel name.
func ValidChannelID(id string) bool {
	return id != "" && len(id) <= 128 && !govalidator.HasWhitespace(id) && !strings.ContainsAny(id, globChars)
}
