package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"event-passport/models"

	"github.com/gosimple/slug"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"
)

var (
	ErrPassportNotFound        = errors.New("passport not found")
	ErrInvalidPassportDocument = errors.New("invalid passport document")
)

const (
	passportIndexFile    = "index.json"
	passportDocumentFile = "passport.json"
)

// PassportCatalog loads passport documents from a directory tree:
//
//	{root}/index.json
//	{root}/{passportId}/passport.json
//	{root}/{passportId}/assets/...
//
// Loaded documents are cached until invalidated. Callers must treat the
// returned *models.Passport as read-only.
type PassportCatalog struct {
	Root string

	mu    sync.RWMutex
	cache map[string]*models.Passport
}

func NewPassportCatalog(root string) *PassportCatalog {
	return &PassportCatalog{Root: root, cache: map[string]*models.Passport{}}
}

// Dir is the directory holding a passport's document and assets.
func (c *PassportCatalog) Dir(passportID string) string {
	return filepath.Join(c.Root, passportID)
}

func (c *PassportCatalog) DocumentPath(passportID string) string {
	return filepath.Join(c.Dir(passportID), passportDocumentFile)
}

// ValidPassportID reports whether id is safe to use as a directory name.
func ValidPassportID(id string) bool {
	return id != "" && slug.IsSlug(id)
}

// ListPassports reads the passport index.
func (c *PassportCatalog) ListPassports() (*models.PassportIndex, error) {
	data, err := os.ReadFile(filepath.Join(c.Root, passportIndexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &models.PassportIndex{}, nil
		}
		return nil, fmt.Errorf("read passport index: %w", err)
	}
	var index models.PassportIndex
	if err := json.Unmarshal(jsonc.ToJSON(data), &index); err != nil {
		return nil, fmt.Errorf("decode passport index: %w", err)
	}
	return &index, nil
}

// DefaultPassport returns the enabled default passport, else the first
// enabled one, else ErrPassportNotFound.
func (c *PassportCatalog) DefaultPassport() (*models.PassportListing, error) {
	index, err := c.ListPassports()
	if err != nil {
		return nil, err
	}
	for i := range index.Passports {
		if p := index.Passports[i]; p.Default && p.Enabled {
			return &p, nil
		}
	}
	for i := range index.Passports {
		if p := index.Passports[i]; p.Enabled {
			return &p, nil
		}
	}
	return nil, ErrPassportNotFound
}

// Load returns the passport document, reading it on first use.
func (c *PassportCatalog) Load(passportID string) (*models.Passport, error) {
	if !ValidPassportID(passportID) {
		return nil, ErrPassportNotFound
	}

	c.mu.RLock()
	cached, ok := c.cache[passportID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(c.DocumentPath(passportID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrPassportNotFound
		}
		return nil, fmt.Errorf("read passport %q: %w", passportID, err)
	}
	passport, err := ParsePassport(data)
	if err != nil {
		log.WithField("passport", passportID).Errorf("[CATALOG] %v", err)
		return nil, err
	}
	passport.ID = passportID

	c.Put(passportID, passport)
	return passport, nil
}

// Put replaces the cached document. The admin save path calls it only after
// the file is on disk.
func (c *PassportCatalog) Put(passportID string, passport *models.Passport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[passportID] = passport
}

// Invalidate drops a cached document so the next Load reads the file.
func (c *PassportCatalog) Invalidate(passportID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, passportID)
}

// ModTime is the document's modification time, zero if it does not exist.
func (c *PassportCatalog) ModTime(passportID string) time.Time {
	info, err := os.Stat(c.DocumentPath(passportID))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// CachedIDs lists the passports currently cached.
func (c *PassportCatalog) CachedIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.cache))
	for id := range c.cache {
		ids = append(ids, id)
	}
	return ids
}

// ParsePassport decodes a passport document. Comments and trailing commas
// are accepted.
func ParsePassport(data []byte) (*models.Passport, error) {
	var passport models.Passport
	if err := json.Unmarshal(jsonc.ToJSON(data), &passport); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPassportDocument, err)
	}
	return &passport, nil
}

// PassportLocation resolves settings.timezone, defaulting to UTC.
func PassportLocation(passport *models.Passport) *time.Location {
	if passport.Settings.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(passport.Settings.Timezone)
	if err != nil {
		log.WithField("passport", passport.ID).Warnf("[CATALOG] unknown timezone %q, using UTC", passport.Settings.Timezone)
		return time.UTC
	}
	return loc
}
