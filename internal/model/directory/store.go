package directory

import (
	"context"
	"sync"
)

// MemoryDirectory implements Directory with in-memory maps, suitable for development.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	photos   map[string]PhotoSummary
	bundles  map[string]BundleSummary
}

// NewMemoryDirectory returns a MemoryDirectory preloaded with the supplied profiles.
func NewMemoryDirectory(profiles ...Profile) *MemoryDirectory {
	d := &MemoryDirectory{
		profiles: make(map[string]Profile, len(profiles)),
		photos:   make(map[string]PhotoSummary),
		bundles:  make(map[string]BundleSummary),
	}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

// PutProfile adds or replaces a profile.
func (d *MemoryDirectory) PutProfile(p Profile) {
	d.mu.Lock()
	d.profiles[p.ID] = p
	d.mu.Unlock()
}

// PutPhoto adds or replaces a photo summary.
func (d *MemoryDirectory) PutPhoto(p PhotoSummary) {
	d.mu.Lock()
	d.photos[p.ID] = p
	d.mu.Unlock()
}

// PutBundle adds or replaces a bundle summary.
func (d *MemoryDirectory) PutBundle(b BundleSummary) {
	d.mu.Lock()
	d.bundles[b.ID] = b
	d.mu.Unlock()
}

func (d *MemoryDirectory) Profile(_ context.Context, userID string) (Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (d *MemoryDirectory) Photo(_ context.Context, photoID string) (PhotoSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.photos[photoID]
	if !ok {
		return PhotoSummary{}, ErrNotFound
	}
	return p, nil
}

func (d *MemoryDirectory) Bundle(_ context.Context, bundleID string) (BundleSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.bundles[bundleID]
	if !ok {
		return BundleSummary{}, ErrNotFound
	}
	return b, nil
}

// Seed provides demo marketplace data for the in-memory driver.
func Seed() *MemoryDirectory {
	d := NewMemoryDirectory(
		Profile{ID: "demo-photographer", Name: "Mara Lind", UserName: "maralind", ProfilePicture: "https://cdn.shutterhub.dev/avatars/mara.jpg"},
		Profile{ID: "demo-client", Name: "Jonas Ek", UserName: "jonasek"},
	)
	d.PutPhoto(PhotoSummary{ID: "demo-photo", Link: "https://cdn.shutterhub.dev/photos/harbour.jpg", Price: 12.5, CreatedBy: "demo-photographer"})
	d.PutBundle(BundleSummary{ID: "demo-bundle", Name: "Harbour at dusk", Price: 49, CoverPhoto: "https://cdn.shutterhub.dev/photos/harbour.jpg", PhotoCount: 8})
	return d
}
