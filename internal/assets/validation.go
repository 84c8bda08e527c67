package assets

import (
	"fmt"
	"strings"
)

// ValidateAssetName rejects names that are empty or contain path separators
// or dots, so a name can only ever select a file inside its asset directory.
func ValidateAssetName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidAssetName)
	}
	if strings.ContainsAny(name, "/\\.\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidAssetName, name)
	}
	return nil
}
