package upload

import (
	"strings"
	"time"
)

const (
	// KeyPrefix 是所有上传对象的键前缀。
	KeyPrefix = "uploaded_documents/"

	timestampLayout = "20060102_150405"
	randomLength    = 8
	defaultExt      = ".pdf"
)

const (
	ContentTypePDF     = "application/pdf"
	ContentTypeText    = "text/plain"
	ContentTypeWord    = "application/msword"
	ContentTypeDefault = "application/octet-stream"
)

// BuildKey 生成对象键。未提供文件名时默认使用 .pdf 扩展名。
func BuildKey(now time.Time, random, filename string) string {
	if len(random) > randomLength {
		random = random[:randomLength]
	}
	prefix := KeyPrefix + now.Format(timestampLayout) + "_" + random
	if filename == "" {
		return prefix + defaultExt
	}
	return prefix + "_" + SanitizeFilename(filename)
}

// SanitizeFilename 把空格与斜杠替换为下划线，避免在键中引入额外层级。
func SanitizeFilename(name string) string {
	return strings.NewReplacer(" ", "_", "/", "_").Replace(name)
}

// ContentTypeFor 根据键的扩展名推断内容类型，大小写不敏感。
func ContentTypeFor(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return ContentTypePDF
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".text"):
		return ContentTypeText
	case strings.HasSuffix(lower, ".doc"), strings.HasSuffix(lower, ".docx"):
		return ContentTypeWord
	default:
		return ContentTypeDefault
	}
}

// FilenameFromDisposition 从 Content-Disposition 头中取出 filename 参数，缺失时返回空串。
func FilenameFromDisposition(header string) string {
	_, rest, ok := strings.Cut(header, "filename=")
	if !ok {
		return ""
	}
	if value, _, found := strings.Cut(rest, ";"); found {
		rest = value
	}
	return strings.Trim(strings.TrimSpace(rest), `"`)
}
