package cel

// FilterExpressionExamples are accept filters for dispatcher.filter_expression.
var FilterExpressionExamples = map[string]string{
	"kind_in_list":     `contentKind in ["Video", "ImageOnly"]`,
	"skip_long_audio":  `!(contentKind == "AudioOnly" && durationSeconds > 300)`,
	"has_image":        `"image" in media`,
	"image_on_cdn":     `"image" in media && media["image"].startsWith("https://cdn.")`,
	"single_recipient": `recipientId == "user-1"`,
	"recent_only":      `createdAt > timestamp("2024-01-01T00:00:00Z")`,
	"sender_allowlist": `senderId in ["u1", "u2"] || senderName.contains("Support")`,
	"sequenced":        `sequence > 0`,
}
