package extract

import (
	"path"
	"regexp"
	"strings"

	"github.com/nzhao20-glitch/filing-etl/internal/records"
)

var keyExtension = regexp.MustCompile(`(?i)\.(pdf|htm|html|doc|docx)$`)

// ParseKeyMetadata recovers filing metadata from the S3 key layout.
//
// Recognized shapes, deepest match first:
//
//	{exchange}/{company_id}/{year}/{month}/{day}/{source_id}.{ext}
//	{exchange}/{company_id}/{source_id}.{ext}
//	{source_id}.{ext}
func ParseKeyMetadata(s3Key string) records.Metadata {
	var meta records.Metadata
	if s3Key == "" {
		return meta
	}

	parts := strings.Split(keyExtension.ReplaceAllString(s3Key, ""), "/")

	switch {
	case len(parts) >= 6:
		meta.Exchange = strings.ToUpper(parts[len(parts)-6])
		meta.CompanyID = parts[len(parts)-5]
		year, month, day := parts[len(parts)-4], parts[len(parts)-3], parts[len(parts)-2]
		if isNumeric(year) && isNumeric(month) && isNumeric(day) {
			meta.FilingDate = year + "-" + month + "-" + day
		}
		meta.SourceID = parts[len(parts)-1]
	case len(parts) >= 3:
		meta.Exchange = strings.ToUpper(parts[len(parts)-3])
		meta.CompanyID = parts[len(parts)-2]
		meta.SourceID = parts[len(parts)-1]
	case len(parts) >= 1:
		meta.SourceID = parts[len(parts)-1]
	}
	return meta
}

// SourceIDFromKey derives the stable document identifier from an object
// key: the basename with its extension stripped and any trailing dot
// trimmed.
func SourceIDFromKey(key string) string {
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.TrimRight(base, ".")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
