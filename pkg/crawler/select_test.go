package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
)

func TestWidthHint(t *testing.T) {
	tests := []struct {
		url  string
		want *int
	}{
		{"https://img1.daumcdn.net/thumb/R1440x0/?fname=x", intPtr(1440)},
		{"https://x.net/r640x/a.jpg", intPtr(640)},
		{"https://x.net/thumb/C300x300/a.jpg", intPtr(300)},
		{"https://x.net/C100x/R900x/a.jpg", intPtr(900)},
		{"https://x.net/a.jpg", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WidthHint(tt.url), tt.url)
	}
}

func TestIsThumbnail(t *testing.T) {
	assert.True(t, IsThumbnail("https://img1.daumcdn.net/thumb/R1440x0/?fname=x"))
	assert.True(t, IsThumbnail("https://blog.kakaocdn.net/thumb/R800x0/a.jpg"))
	assert.False(t, IsThumbnail("https://blog.kakaocdn.net/dn/abc/img.jpg"))
}

func TestIsSmallThumbnail(t *testing.T) {
	assert.True(t, IsSmallThumbnail("https://x.net/R599x0/a.jpg"))
	assert.False(t, IsSmallThumbnail("https://x.net/R600x0/a.jpg"))
	assert.True(t, IsSmallThumbnail("https://img1.daumcdn.net/thumb/C1000x1000/?fname=x"))
	assert.False(t, IsSmallThumbnail("https://x.net/a.jpg"))
}

func TestExpandThumbnail(t *testing.T) {
	thumb := models.ImageCandidate{
		URL:  "https://img1.daumcdn.net/thumb/R1440x0/?fname=https%253A%252F%252Fx.net%252FR2000x%252Fimg.jpg",
		Type: TypeImgSrc,
	}
	original, ok := ExpandThumbnail(thumb)
	require.True(t, ok)
	assert.Equal(t, "https://x.net/R2000x/img.jpg", original.URL)
	assert.Equal(t, "img:src:fname", original.Type)
	assert.Equal(t, intPtr(2000), original.Width)

	_, ok = ExpandThumbnail(models.ImageCandidate{URL: "https://img1.daumcdn.net/thumb/R1440x0/?fname=relative.jpg"})
	assert.False(t, ok, "fname must be an http URL")

	_, ok = ExpandThumbnail(models.ImageCandidate{URL: "https://x.net/a.jpg"})
	assert.False(t, ok)
}

func TestSelectGallery_PrefersHostedOverThumbnails(t *testing.T) {
	images := []models.ImageCandidate{
		{URL: "https://img1.daumcdn.net/thumb/R1440x0/?fname=https%3A%2F%2Fblog.kakaocdn.net%2Fdn%2Fabc%2Fimg.jpg", Type: TypeImgSrc, Width: intPtr(1440)},
		{URL: "https://tedoori.net/a.jpg", Type: TypeImgSrc},
		{URL: "https://tedoori.net/small/R300x0/b.jpg", Type: TypeImgSrc},
	}

	got := SelectGallery(images)

	urls := make([]string, len(got))
	for i, g := range got {
		urls[i] = g.URL
		assert.False(t, IsThumbnail(g.URL), "thumbnail leaked into selection: %s", g.URL)
	}
	assert.Equal(t, []string{"https://blog.kakaocdn.net/dn/abc/img.jpg", "https://tedoori.net/a.jpg"}, urls)
	assert.Equal(t, "img:src:fname", got[0].Type)
}

func TestSelectGallery_ThumbnailsOnlySortedByWidthStable(t *testing.T) {
	t1 := "https://img1.daumcdn.net/thumb/R800x0/?fname=x1"
	t2 := "https://img1.daumcdn.net/thumb/R1200x0/?fname=x2"
	t3 := "https://img1.daumcdn.net/thumb/R800x0/?fname=x3"
	t4 := "https://img1.daumcdn.net/thumb/R300x0/?fname=x4"
	t5 := "https://img1.daumcdn.net/thumb/C1000x1000/?fname=x5"

	var images []models.ImageCandidate
	for _, u := range []string{t1, t2, t3, t4, t5} {
		images = append(images, models.ImageCandidate{URL: u, Type: TypeImgSrc})
	}

	got := SelectGallery(images)

	require.Len(t, got, 3)
	assert.Equal(t, t2, got[0].URL)
	assert.Equal(t, t1, got[1].URL, "ties keep first-seen order")
	assert.Equal(t, t3, got[2].URL)
	assert.Equal(t, intPtr(1200), got[0].Width)
}

func TestSelectGallery_DuplicateKeepsWiderHint(t *testing.T) {
	images := []models.ImageCandidate{
		{URL: "https://tedoori.net/a.jpg", Type: TypeImgSrc},
		{URL: "https://tedoori.net/a.jpg", Type: TypeImgSrcset, Width: intPtr(1600)},
		{URL: "https://tedoori.net/a.jpg", Type: TypeOGImage, Width: intPtr(1600)},
	}
	got := SelectGallery(images)
	require.Len(t, got, 1)
	assert.Equal(t, TypeImgSrcset, got[0].Type)
}

func TestSelectGallery_Empty(t *testing.T) {
	assert.Empty(t, SelectGallery(nil))
}
