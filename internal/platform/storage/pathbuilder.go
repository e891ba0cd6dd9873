package storage

import (
	"fmt"
	"strings"
)

// AssetPurpose selects the partner sub-folder an image is stored under.
type AssetPurpose string

const (
	PurposeProduct AssetPurpose = "products"
	PurposeService AssetPurpose = "services"
	PurposeLogo    AssetPurpose = "logos"
)

// Valid reports whether purpose is a known folder.
func (p AssetPurpose) Valid() bool {
	switch p {
	case PurposeProduct, PurposeService, PurposeLogo:
		return true
	default:
		return false
	}
}

// BuildFolder composes <root>/partners/<partnerID>/<purpose>.
func BuildFolder(root, partnerID string, purpose AssetPurpose) (string, error) {
	if !purpose.Valid() {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	partnerID, err := validateSegment("partnerID", partnerID)
	if err != nil {
		return "", err
	}
	root = strings.Trim(strings.TrimSpace(root), "/")
	folder := fmt.Sprintf("partners/%s/%s", partnerID, purpose)
	if root == "" {
		return folder, nil
	}
	return root + "/" + folder, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
