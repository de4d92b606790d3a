package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/models"
)

func TestDecoder_Decode(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, p models.PushPayload)
	}{
		{
			name: "canonical",
			raw: `{"messageId":"m1","senderId":"u1","senderName":"Ada","contentKind":"ImageWithAudio",
				"mediaRefs":{"imageUrl":"https://cdn/a.jpg","mediaUrl":"https://cdn/a.m4a"},
				"durationSeconds":12,"captionPreview":"hi","createdAtMillis":1699999999000}`,
			check: func(t *testing.T, p models.PushPayload) {
				assert.Equal(t, "m1", p.MessageID)
				assert.Equal(t, models.ContentImageWithAudio, p.ContentKind)
				assert.Equal(t, "https://cdn/a.jpg", p.MediaRefs.ImageURL)
				assert.Equal(t, "https://cdn/a.m4a", p.MediaRefs.MediaURL)
				assert.Equal(t, int64(12), p.DurationSeconds)
				assert.Equal(t, int64(1699999999000), p.CreatedAtMillis)
			},
		},
		{
			name: "string encoded values",
			raw: `{"messageId":"m2","contentKind":"audio_only","mediaRefs":"{\"mediaUrl\":\"https://cdn/b.m4a\"}",
				"durationSeconds":"42","createdAtMillis":"1699999999001","sequence":" 7 ","silent":"true"}`,
			check: func(t *testing.T, p models.PushPayload) {
				assert.Equal(t, models.ContentAudioOnly, p.ContentKind)
				assert.Equal(t, "https://cdn/b.m4a", p.MediaRefs.MediaURL)
				assert.Equal(t, int64(42), p.DurationSeconds)
				assert.Equal(t, int64(1699999999001), p.CreatedAtMillis)
				assert.Equal(t, int64(7), p.Sequence)
				assert.True(t, p.Silent)
			},
		},
		{
			name: "float duration and numeric id",
			raw:  `{"messageId":123,"contentKind":"Video","videoUrl":"https://cdn/v.mp4","durationSeconds":12.6}`,
			check: func(t *testing.T, p models.PushPayload) {
				assert.Equal(t, "123", p.MessageID)
				assert.Equal(t, "https://cdn/v.mp4", p.MediaRefs.VideoURL)
				assert.Equal(t, int64(13), p.DurationSeconds)
			},
		},
		{
			name: "defaults for missing optional fields",
			raw:  `{"messageId":"m3","imageUrl":"https://cdn/c.jpg","audioUrl":"https://cdn/c.m4a"}`,
			check: func(t *testing.T, p models.PushPayload) {
				assert.Equal(t, models.ContentImageWithAudio, p.ContentKind)
				assert.Zero(t, p.CreatedAtMillis)
				assert.Zero(t, p.DurationSeconds)
				assert.Empty(t, p.SenderName)
				assert.False(t, p.Silent)
			},
		},
		{
			name: "data envelope as string",
			raw:  `{"data":"{\"messageId\":\"m4\",\"contentKind\":\"ImageOnly\",\"imageUrl\":\"https://cdn/d.jpg\"}"}`,
			check: func(t *testing.T, p models.PushPayload) {
				assert.Equal(t, "m4", p.MessageID)
				assert.Equal(t, "https://cdn/d.jpg", p.MediaRefs.ImageURL)
			},
		},
		{
			name: "data envelope as object",
			raw:  `{"data":{"messageId":"m5","videoUrl":"https://cdn/e.mp4","silent":0}}`,
			check: func(t *testing.T, p models.PushPayload) {
				assert.Equal(t, models.ContentVideo, p.ContentKind)
				assert.False(t, p.Silent)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := d.Decode([]byte(tt.raw))
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestDecoder_Rejects(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{"messageId":`},
		{name: "array", raw: `[1,2]`},
		{name: "missing id", raw: `{"contentKind":"Video"}`},
		{name: "empty id", raw: `{"messageId":""}`},
		{name: "bad duration", raw: `{"messageId":"m1","durationSeconds":"twelve"}`},
		{name: "bad kind", raw: `{"messageId":"m1","contentKind":"Hologram"}`},
		{name: "bad media refs type", raw: `{"messageId":"m1","mediaRefs":[1]}`},
		{name: "bad media refs string", raw: `{"messageId":"m1","mediaRefs":"not json"}`},
		{name: "bad silent", raw: `{"messageId":"m1","silent":"maybe"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestClassify(t *testing.T) {
	img, audio, video := "https://cdn/a.jpg", "https://cdn/a.m4a", "https://cdn/a.mp4"

	tests := []struct {
		name     string
		kind     models.ContentKind
		refs     models.MediaRefs
		want     map[string]bool
		wantFail bool
	}{
		{
			name: "video with thumbnail",
			kind: models.ContentVideo,
			refs: models.MediaRefs{ImageURL: img, VideoURL: video},
			want: map[string]bool{"primary-image": false, "video": true},
		},
		{
			name: "audio with avatar",
			kind: models.ContentAudioOnly,
			refs: models.MediaRefs{ImageURL: img, MediaURL: audio},
			want: map[string]bool{"primary-image": false, "primary-media": true},
		},
		{
			name: "image with audio",
			kind: models.ContentImageWithAudio,
			refs: models.MediaRefs{ImageURL: img, MediaURL: audio},
			want: map[string]bool{"primary-image": true, "primary-media": true},
		},
		{
			name: "image only",
			kind: models.ContentImageOnly,
			refs: models.MediaRefs{ImageURL: img},
			want: map[string]bool{"primary-image": true},
		},
		{
			name:     "video without video url",
			kind:     models.ContentVideo,
			refs:     models.MediaRefs{ImageURL: img},
			wantFail: true,
		},
		{
			name:     "image with audio missing audio",
			kind:     models.ContentImageWithAudio,
			refs:     models.MediaRefs{ImageURL: img},
			wantFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := classify(models.PushPayload{MessageID: "m1", ContentKind: tt.kind, MediaRefs: tt.refs})
			if tt.wantFail {
				require.Error(t, err)
				assert.True(t, apperrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			got := make(map[string]bool, len(fields))
			for _, f := range fields {
				got[f.role] = f.required
				assert.Equal(t, "m1."+f.role, f.key("m1"))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
