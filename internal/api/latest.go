package api

import (
	"fmt"
	"sync"
)

// LatestImage is the most recent frame pushed through the REST upload path,
// kept so a polling client can fetch it without a live channel.
type LatestImage struct {
	ImageData string `json:"imageData"`
	Analysis  string `json:"analysis"`
	Timestamp int64  `json:"timestamp"`
	ImageID   string `json:"imageId"`
}

// LatestImageStore holds at most one image. New uploads replace the previous
// one.
type LatestImageStore struct {
	mu     sync.Mutex
	latest *LatestImage
}

func NewLatestImageStore() *LatestImageStore {
	return &LatestImageStore{}
}

// Set records an uploaded frame and its analysis.
func (l *LatestImageStore) Set(imageData, analysis string, timestamp int64) {
	prefix := imageData
	if len(prefix) > 50 {
		prefix = prefix[:50]
	}
	l.mu.Lock()
	l.latest = &LatestImage{
		ImageData: imageData,
		Analysis:  analysis,
		Timestamp: timestamp,
		ImageID:   fmt.Sprintf("%d-%s", timestamp, prefix),
	}
	l.mu.Unlock()
}

// Get returns the stored image, or nil when nothing has been uploaded.
func (l *LatestImageStore) Get() *LatestImage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		return nil
	}
	img := *l.latest
	return &img
}
