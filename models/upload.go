package models

import (
	"path"
	"strconv"
	"strings"
	"time"
)

// UploadReference names an uploaded media object so repeated uploads of the
// same file never overwrite each other: <userID>-<unixMillis>-<basename>.
func UploadReference(userID, uri string, now time.Time) string {
	name := uri
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = path.Clean("/" + name)[1:]
	if name == "" {
		name = "upload"
	}
	return userID + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + name
}
