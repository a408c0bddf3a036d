package engine

import (
	"strings"

	"github.com/mailops/mailpurge/internal/foldercodec"
)

// priorityKeywords mark the folders most likely to hold the target message.
// Substring match against the decoded display name, case-insensitive, so
// both English and Russian folder naming conventions classify.
var priorityKeywords = []string{
	"inbox",
	"sent",
	"отправ",
	"входя",
	"spam",
	"junk",
	"drafts",
	"черновик",
}

// orderFolders returns priority folders first, then the rest, preserving the
// listing order within each group.
func orderFolders(folders []foldercodec.Folder) []foldercodec.Folder {
	ordered := make([]foldercodec.Folder, 0, len(folders))
	var rest []foldercodec.Folder
	for _, folder := range folders {
		if isPriority(folder.Display) {
			ordered = append(ordered, folder)
		} else {
			rest = append(rest, folder)
		}
	}
	return append(ordered, rest...)
}

func isPriority(display string) bool {
	lower := strings.ToLower(display)
	for _, keyword := range priorityKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
