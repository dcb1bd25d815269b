// Channel naming used by the realtime backbone in Shipper.

package entity

import "strings"

const (
	ProjectChannelPrefix    = "project:"
	WorkspaceChannelPrefix  = "workspace:"
	FileEventsChannelPrefix = "file-events:"
	// FileEventsPattern matches every project's file event channel.
	FileEventsPattern = FileEventsChannelPrefix + "*"
)

func ProjectChannel(projectID string) string {
	return ProjectChannelPrefix + projectID
}

func WorkspaceChannel(workspaceID string) string {
	return WorkspaceChannelPrefix + workspaceID
}

func FileEventsChannel(projectID string) string {
	return FileEventsChannelPrefix + projectID
}

// ProjectIDFromFileChannel strips the file event prefix from a concrete channel name.
func ProjectIDFromFileChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, FileEventsChannelPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ChannelKind is the namespace of a channel, used as a metrics label.
func ChannelKind(channel string) string {
	switch {
	case strings.HasPrefix(channel, ProjectChannelPrefix):
		return "project"
	case strings.HasPrefix(channel, WorkspaceChannelPrefix):
		return "workspace"
	case strings.HasPrefix(channel, FileEventsChannelPrefix):
		return "file-events"
	}
	return "other"
}
