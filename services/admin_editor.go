package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"event-passport/models"
	"event-passport/utils"

	"github.com/gosimple/slug"
	log "github.com/sirupsen/logrus"
)

var (
	ErrQrImageExists    = errors.New("a printed QR code exists for this badge; regenerating the secret will invalidate it")
	ErrNotQrBadge       = errors.New("badge does not require a QR scan")
	ErrBundleNoDocument = errors.New("bundle does not contain a passport document")
)

// ValidationError lists every problem found in a passport document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidPassportDocument, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPassportDocument }

// AssetUploader mirrors a stored asset elsewhere and returns its public URL.
type AssetUploader interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
}

// AssetUpload describes a stored asset. Path is relative to the passport
// directory and is what the document references.
type AssetUpload struct {
	Path   string `json:"path"`
	URL    string `json:"url"`
	CDNURL string `json:"cdnUrl,omitempty"`
}

// AdminEditor writes passport documents and assets. Writes are serialized;
// the catalog and live sessions only see a document after it is on disk.
type AdminEditor struct {
	Catalog  *PassportCatalog
	Sessions *SessionManager
	Mirror   AssetUploader

	mu sync.Mutex
}

func NewAdminEditor(catalog *PassportCatalog, sessions *SessionManager, mirror AssetUploader) *AdminEditor {
	return &AdminEditor{Catalog: catalog, Sessions: sessions, Mirror: mirror}
}

// SavePassport validates and stores a full passport document.
func (e *AdminEditor) SavePassport(ctx context.Context, passportID string, data []byte) (*models.Passport, error) {
	passport, err := ParsePassport(data)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.save(passportID, passport)
}

// save must be called with e.mu held.
func (e *AdminEditor) save(passportID string, passport *models.Passport) (*models.Passport, error) {
	if !ValidPassportID(passportID) {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("invalid passport id %q", passportID)}}
	}
	if err := ensureQrSecrets(passport); err != nil {
		return nil, err
	}
	if err := ValidatePassport(passport); err != nil {
		return nil, err
	}

	doc := *passport
	doc.ID = ""
	out, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode passport: %w", err)
	}
	out = append(out, '\n')
	if err := utils.WriteFileAtomic(e.Catalog.DocumentPath(passportID), bytes.NewReader(out)); err != nil {
		return nil, fmt.Errorf("write passport: %w", err)
	}

	passport.ID = passportID
	e.Catalog.Put(passportID, passport)
	if e.Sessions != nil {
		e.Sessions.InvalidatePassport(passportID)
	}
	log.WithField("passport", passportID).Infof("[ADMIN] saved passport (%d badges)", len(passport.Badges))
	return passport, nil
}

// ensureQrSecrets gives every QR badge without a secret a fresh one.
func ensureQrSecrets(passport *models.Passport) error {
	for i := range passport.Badges {
		b := &passport.Badges[i]
		if !b.RequiresQrScan || b.ClaimSecret != "" {
			continue
		}
		secret, err := GenerateClaimSecret(DefaultClaimSecretLength)
		if err != nil {
			return err
		}
		b.ClaimSecret = secret
	}
	return nil
}

// ValidatePassport checks the rules the runtime relies on. Unlock
// conditions may only reference known, non-secret badges other than the
// badge itself.
func ValidatePassport(p *models.Passport) error {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(p.Meta.Name) == "" {
		addf("meta.name is required")
	}

	typeIDs := map[string]bool{}
	for _, t := range p.BadgeTypes {
		if t.ID == "" {
			addf("badge type without id")
		}
		if typeIDs[t.ID] {
			addf("duplicate badge type %q", t.ID)
		}
		typeIDs[t.ID] = true
	}

	byID := map[string]models.Badge{}
	for i, b := range p.Badges {
		if b.ID == "" {
			addf("badges[%d] has no id", i)
			continue
		}
		if _, dup := byID[b.ID]; dup {
			addf("duplicate badge id %q", b.ID)
		}
		byID[b.ID] = b
	}

	for _, b := range p.Badges {
		if b.ID == "" {
			continue
		}
		if b.Type == "" {
			addf("badge %q has no type", b.ID)
		} else if !b.IsSecret() && len(p.BadgeTypes) > 0 && !typeIDs[b.Type] {
			addf("badge %q has unknown type %q", b.ID, b.Type)
		}
		if b.Image != "" && b.Emoji != "" {
			addf("badge %q sets both image and emoji", b.ID)
		}
		if b.RequiresQrScan && b.ClaimSecret == "" {
			addf("badge %q requires a QR scan but has no claim secret", b.ID)
		}

		cond := b.UnlockCondition
		if cond == nil {
			continue
		}
		if cond.Type != models.UnlockConditionAll {
			addf("badge %q has unsupported unlock condition %q", b.ID, cond.Type)
		}
		for _, ref := range cond.BadgeIDs {
			switch target, ok := byID[ref]; {
			case ref == b.ID:
				addf("badge %q cannot unlock itself", b.ID)
			case !ok:
				addf("badge %q references unknown badge %q", b.ID, ref)
			case target.IsSecret():
				addf("badge %q cannot be gated by secret badge %q", b.ID, ref)
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// assetDir maps an asset type to its folder under assets/.
func assetDir(assetType string) string {
	switch assetType {
	case "image", "images", "badge-image":
		return "assets/images/badges"
	case "audio", "sound", "badge-sound":
		return "assets/audio/badges"
	}
	if dir := slug.Make(assetType); dir != "" {
		return "assets/" + dir
	}
	return "assets/misc"
}

// UploadAsset stores an uploaded file in the passport's asset tree.
func (e *AdminEditor) UploadAsset(ctx context.Context, passportID string, fileHeader *multipart.FileHeader, assetType string) (*AssetUpload, error) {
	if _, err := e.Catalog.Load(passportID); err != nil {
		return nil, err
	}

	rel := path.Join(assetDir(assetType), utils.SanitizeFileName(fileHeader.Filename))
	dest := filepath.Join(e.Catalog.Dir(passportID), filepath.FromSlash(rel))
	if err := utils.SaveFile(fileHeader, dest); err != nil {
		return nil, fmt.Errorf("save asset: %w", err)
	}

	upload := &AssetUpload{Path: rel, URL: models.AssetURL(passportID, rel)}
	upload.CDNURL = e.mirror(ctx, passportID, rel, dest)
	log.WithField("passport", passportID).Infof("[ADMIN] uploaded asset %s", rel)
	return upload, nil
}

// mirror copies a stored asset to the CDN. Failures are logged; the local
// copy stays authoritative.
func (e *AdminEditor) mirror(ctx context.Context, passportID, rel, localPath string) string {
	if e.Mirror == nil {
		return ""
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		log.WithField("passport", passportID).Warnf("[ADMIN] mirror read %s: %v", rel, err)
		return ""
	}
	url, err := e.Mirror.Upload(ctx, utils.ObjectKey(passportID, rel), data)
	if err != nil {
		log.WithField("passport", passportID).Warnf("[ADMIN] mirror upload %s: %v", rel, err)
		return ""
	}
	return url
}

// RegenerateClaimSecret replaces a QR badge's secret, invalidating every
// token printed so far. When a QR image already exists the caller must
// confirm; the image is removed from the document since it no longer scans.
func (e *AdminEditor) RegenerateClaimSecret(ctx context.Context, passportID, badgeID string, confirm bool) (*models.Badge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	passport, badge, err := e.editableBadge(passportID, badgeID)
	if err != nil {
		return nil, err
	}
	if !badge.RequiresQrScan {
		return nil, ErrNotQrBadge
	}
	if badge.QrImage != "" && !confirm {
		return nil, ErrQrImageExists
	}

	secret, err := GenerateClaimSecret(DefaultClaimSecretLength)
	if err != nil {
		return nil, err
	}
	badge.ClaimSecret = secret
	badge.QrImage = ""

	if _, err := e.save(passportID, passport); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"passport": passportID, "badge": badgeID}).Info("[ADMIN] claim secret regenerated")
	out := *badge
	return &out, nil
}

// GenerateQrImage renders the badge's claim token as a PNG under
// assets/images/qr and records it on the badge.
func (e *AdminEditor) GenerateQrImage(ctx context.Context, passportID, badgeID string) (*models.Badge, *AssetUpload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	passport, badge, err := e.editableBadge(passportID, badgeID)
	if err != nil {
		return nil, nil, err
	}
	if !badge.RequiresQrScan {
		return nil, nil, ErrNotQrBadge
	}
	if badge.ClaimSecret == "" {
		secret, err := GenerateClaimSecret(DefaultClaimSecretLength)
		if err != nil {
			return nil, nil, err
		}
		badge.ClaimSecret = secret
	}

	png, err := utils.RenderQRCode(BuildQrData(passportID, badge.ID, badge.ClaimSecret))
	if err != nil {
		return nil, nil, fmt.Errorf("render qr: %w", err)
	}
	rel := path.Join("assets/images/qr", utils.SanitizeFileName(badge.ID+".png"))
	dest := filepath.Join(e.Catalog.Dir(passportID), filepath.FromSlash(rel))
	if err := utils.WriteFileAtomic(dest, bytes.NewReader(png)); err != nil {
		return nil, nil, fmt.Errorf("write qr: %w", err)
	}
	badge.QrImage = rel

	if _, err := e.save(passportID, passport); err != nil {
		return nil, nil, err
	}
	upload := &AssetUpload{Path: rel, URL: models.AssetURL(passportID, rel)}
	upload.CDNURL = e.mirror(ctx, passportID, rel, dest)
	out := *badge
	return &out, upload, nil
}

// editableBadge returns a private copy of the passport and a pointer to the
// badge inside it. Must be called with e.mu held.
func (e *AdminEditor) editableBadge(passportID, badgeID string) (*models.Passport, *models.Badge, error) {
	current, err := e.Catalog.Load(passportID)
	if err != nil {
		return nil, nil, err
	}
	passport := *current
	passport.Badges = append([]models.Badge(nil), current.Badges...)
	for i := range passport.Badges {
		if passport.Badges[i].ID == badgeID {
			return &passport, &passport.Badges[i], nil
		}
	}
	return nil, nil, ErrBadgeNotFound
}

// ImportBundle unpacks a zip holding a passport document and its assets
// into the passport directory. The document is validated before any file
// is moved into place.
func (e *AdminEditor) ImportBundle(ctx context.Context, passportID string, fileHeader *multipart.FileHeader) (*models.Passport, error) {
	if !ValidPassportID(passportID) {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("invalid passport id %q", passportID)}}
	}
	if err := os.MkdirAll(e.Catalog.Root, os.ModePerm); err != nil {
		return nil, err
	}
	work, err := os.MkdirTemp(e.Catalog.Root, ".bundle-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	zipPath := filepath.Join(work, "bundle.zip")
	if err := utils.SaveFile(fileHeader, zipPath); err != nil {
		return nil, fmt.Errorf("save bundle: %w", err)
	}
	extractDir := filepath.Join(work, "x")
	if _, err := utils.Unzip(zipPath, extractDir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPassportDocument, err)
	}

	docRel, err := utils.FindPassportDocument(extractDir)
	if err != nil {
		return nil, ErrBundleNoDocument
	}
	docPath := filepath.Join(extractDir, filepath.FromSlash(docRel))
	data, err := os.ReadFile(docPath)
	if err != nil {
		return nil, err
	}
	passport, err := ParsePassport(data)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassport(passport); err != nil {
		var verr *ValidationError
		// missing QR secrets are filled in on save
		if !errors.As(err, &verr) || !onlyMissingSecrets(verr) {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bundleRoot := filepath.Dir(docPath)
	moved, err := moveTree(bundleRoot, e.Catalog.Dir(passportID), docPath)
	if err != nil {
		return nil, fmt.Errorf("install bundle: %w", err)
	}
	saved, err := e.save(passportID, passport)
	if err != nil {
		return nil, err
	}
	for _, rel := range moved {
		e.mirror(ctx, passportID, rel, filepath.Join(e.Catalog.Dir(passportID), filepath.FromSlash(rel)))
	}
	log.WithField("passport", passportID).Infof("[ADMIN] imported bundle (%d files)", len(moved))
	return saved, nil
}

func onlyMissingSecrets(verr *ValidationError) bool {
	for _, p := range verr.Problems {
		if !strings.HasSuffix(p, "has no claim secret") {
			return false
		}
	}
	return true
}

// moveTree renames every file under src into dst, skipping the document
// itself, and returns the moved paths relative to dst.
func moveTree(src, dst, skip string) ([]string, error) {
	var moved []string
	err := filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || p == skip {
			return nil
		}
		rel, _ := filepath.Rel(src, p)
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
			return err
		}
		if err := os.Rename(p, target); err != nil {
			if err := copyFile(p, target); err != nil {
				return err
			}
		}
		moved = append(moved, filepath.ToSlash(rel))
		return nil
	})
	return moved, err
}

func copyFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	return utils.WriteFileAtomic(dst, f)
}
