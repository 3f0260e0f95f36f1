package documents

import (
	"mime"
	"path"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/wolfman30/rental-ops/internal/catalog"
	"github.com/wolfman30/rental-ops/internal/kommo"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var preferredExtensions = map[string]string{
	"image/jpeg":         ".jpg",
	"image/jpg":          ".jpg",
	"image/png":          ".png",
	"image/heic":         ".heic",
	"image/heif":         ".heif",
	"image/webp":         ".webp",
	"image/gif":          ".gif",
	"application/pdf":    ".pdf",
	"application/msword": ".doc",

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

// keywordTypes is checked in order; the first keyword found in the lower-cased
// file name decides the type. Whole-word keywords must match a name token.
var keywordTypes = []struct {
	keyword   string
	docType   catalog.DocType
	wholeWord bool
}{
	{keyword: "passport", docType: catalog.DocPassport},
	{keyword: "licence", docType: catalog.DocDriverLicense},
	{keyword: "license", docType: catalog.DocDriverLicense},
	{keyword: "driving", docType: catalog.DocDriverLicense},
	{keyword: "emirates", docType: catalog.DocEmiratesID},
	{keyword: "eid", docType: catalog.DocEmiratesID, wholeWord: true},
	{keyword: "mulkiya", docType: catalog.DocMulkiya},
	{keyword: "registration", docType: catalog.DocMulkiya},
	{keyword: "insurance", docType: catalog.DocInsurance},
}

// Classify picks a doc type from the file name, then from the provider's
// declared type, else generic.
func Classify(fileName, providerType string) catalog.DocType {
	lower := strings.ToLower(fileName)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, kt := range keywordTypes {
		if kt.wholeWord {
			if slices.Contains(tokens, kt.keyword) {
				return kt.docType
			}
			continue
		}
		if strings.Contains(lower, kt.keyword) {
			return kt.docType
		}
	}
	switch dt := catalog.DocType(strings.ToLower(strings.TrimSpace(providerType))); dt {
	case catalog.DocPassport, catalog.DocDriverLicense, catalog.DocEmiratesID, catalog.DocMulkiya, catalog.DocInsurance:
		return dt
	}
	return catalog.DocGeneric
}

// DescriptorFileName derives a display name from a drive descriptor and
// appends an extension inferred from the mime type when missing.
func DescriptorFileName(desc *kommo.FileDescriptor) string {
	if desc == nil {
		return ""
	}
	name := ""
	for _, candidate := range []string{desc.SanitizedName, desc.Name, desc.FileName, desc.OriginalName} {
		if c := strings.TrimSpace(candidate); c != "" {
			name = c
			break
		}
	}
	if name == "" {
		name = desc.UUID
	}
	return withExtension(name, desc.Metadata.Extension, desc.Metadata.MimeType)
}

func withExtension(name, declaredExt, mimeType string) string {
	if hasExtension(name) {
		return name
	}
	if ext := strings.TrimPrefix(strings.TrimSpace(declaredExt), "."); ext != "" {
		return name + "." + strings.ToLower(ext)
	}
	if ext := extensionFor(mimeType); ext != "" {
		return name + ext
	}
	return name
}

func hasExtension(name string) bool {
	ext := path.Ext(name)
	return len(ext) > 1 && len(ext) <= 6
}

func extensionFor(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if mediaType == "" {
		return ""
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// StoragePath is clients/{clientID}/{docType}/{uuid}-{file name}.
func StoragePath(clientID string, docType catalog.DocType, fileUUID, fileName string) string {
	folder := sanitizeSegment(strings.ToLower(string(docType)))
	if folder == "" {
		folder = string(catalog.DocGeneric)
	}
	name := sanitizeSegment(fileName)
	if name == "" {
		name = "file"
	}
	return path.Join("clients", sanitizeSegment(clientID), folder, sanitizeSegment(fileUUID)+"-"+name)
}

func sanitizeSegment(s string) string {
	return strings.Trim(unsafePathChars.ReplaceAllString(strings.TrimSpace(s), "_"), "_.")
}
