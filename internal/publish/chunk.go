package publish

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ChunkText splits text into pieces of at most limit runes. Splitting
// prefers paragraph boundaries (blank lines); a paragraph that alone
// exceeds the limit is split at word boundaries. A word is only ever
// broken when it is itself longer than the limit.
func ChunkText(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = nil
			currentLen = 0
		}
	}

	for _, para := range paragraphs {
		paraLen := utf8.RuneCountInString(para)

		if paraLen > limit {
			flush()
			chunks = append(chunks, splitWords(para, limit)...)
			continue
		}

		// +2 accounts for the paragraph separator within a chunk.
		sep := 0
		if len(current) > 0 {
			sep = 2
		}
		if currentLen+sep+paraLen > limit {
			flush()
		}
		if len(current) > 0 {
			currentLen += 2
		}
		current = append(current, para)
		currentLen += paraLen
	}
	flush()

	return chunks
}

// splitWords splits a single oversized paragraph at spaces.
func splitWords(para string, limit int) []string {
	words := strings.Fields(para)

	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
			currentLen = 0
		}
	}

	for _, word := range words {
		wordLen := utf8.RuneCountInString(word)

		if wordLen > limit {
			// A single word longer than the limit cannot be kept whole.
			flush()
			runes := []rune(word)
			for len(runes) > limit {
				chunks = append(chunks, string(runes[:limit]))
				runes = runes[limit:]
			}
			if len(runes) > 0 {
				current = []string{string(runes)}
				currentLen = len(runes)
			}
			continue
		}

		sep := 0
		if len(current) > 0 {
			sep = 1
		}
		if currentLen+sep+wordLen > limit {
			flush()
		}
		if len(current) > 0 {
			currentLen++
		}
		current = append(current, word)
		currentLen += wordLen
	}
	flush()

	return chunks
}

// BatchPaths groups media paths into batches of at most size items,
// preserving order.
func BatchPaths(paths []string, size int) [][]string {
	if size <= 0 {
		size = 10
	}
	var batches [][]string
	for len(paths) > 0 {
		n := size
		if len(paths) < n {
			n = len(paths)
		}
		batches = append(batches, paths[:n])
		paths = paths[n:]
	}
	return batches
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
	".avi":  true,
	".m4v":  true,
}

// IsVideoPath reports whether a media path refers to a video, judged
// by extension.
func IsVideoPath(path string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return false
	}
	return videoExtensions[strings.ToLower(path[idx:])]
}

// SplitMedia separates an ordered media list into photos and videos.
// Photos and videos are never mixed in one attachment batch.
func SplitMedia(paths []string) (photos, videos []string) {
	for _, p := range paths {
		if IsVideoPath(p) {
			videos = append(videos, p)
		} else {
			photos = append(photos, p)
		}
	}
	return photos, videos
}

var markdownEscaper = regexp.MustCompile("([_*\\[\\]()~`>#+\\-=|{}.!\\\\])")

// EscapeMarkdown escapes the MarkdownV2 special characters Telegram
// would otherwise interpret as formatting.
func EscapeMarkdown(text string) string {
	return markdownEscaper.ReplaceAllString(text, "\\$1")
}
