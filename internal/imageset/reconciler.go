// Package imageset computes the image rows a product should end up with.
// Nothing in this package performs I/O.
package imageset

import (
	"fmt"

	"marketplace/internal/domain"

	"github.com/google/uuid"
)

const (
	MinImages = 1
	MaxImages = 10
)

var (
	ErrInvalidImageCount            = domain.NewError(domain.ErrValidation, fmt.Sprintf("a product needs between %d and %d images", MinImages, MaxImages))
	ErrNoRepresentativeImage        = domain.NewError(domain.ErrValidation, "exactly one representative image is required")
	ErrMultipleRepresentativeImages = domain.NewError(domain.ErrValidation, "only one image can be representative")
	ErrInvalidRepresentativeIndex   = domain.NewError(domain.ErrValidation, "representative image index is out of range")
	ErrUnknownImage                 = domain.NewError(domain.ErrValidation, "image does not belong to this product")
	ErrEmptyImageURL                = domain.NewError(domain.ErrValidation, "image url is required")
)

// Result is the outcome of reconciling an existing image set with a target.
// Final replaces every image row of the product; Delete lists the rows whose
// blobs are no longer referenced once Final is committed.
type Result struct {
	Final  []domain.ImageSpec
	Delete []domain.ProductImage
}

// Reconcile keeps the existing images named in keepIDs (in keepIDs order),
// appends newURLs (in upload order) and marks the image at representativeIndex
// of the combined list as the only representative one.
func Reconcile(existing []domain.ProductImage, keepIDs []uuid.UUID, newURLs []string, representativeIndex int) (*Result, error) {
	byID := make(map[uuid.UUID]domain.ProductImage, len(existing))
	for _, img := range existing {
		byID[img.ID] = img
	}

	kept := make(map[uuid.UUID]bool, len(keepIDs))
	final := make([]domain.ImageSpec, 0, len(keepIDs)+len(newURLs))
	for _, id := range keepIDs {
		if kept[id] {
			continue
		}
		img, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownImage, id)
		}
		kept[id] = true
		final = append(final, domain.ImageSpec{URL: img.ImageURL})
	}
	for _, url := range newURLs {
		final = append(final, domain.ImageSpec{URL: url})
	}

	if err := CheckCount(len(final)); err != nil {
		return nil, err
	}
	if representativeIndex < 0 || representativeIndex >= len(final) {
		return nil, ErrInvalidRepresentativeIndex
	}
	final[representativeIndex].IsRepresentative = true

	var toDelete []domain.ProductImage
	for _, img := range existing {
		if !kept[img.ID] {
			toDelete = append(toDelete, img)
		}
	}

	return &Result{Final: final, Delete: toDelete}, nil
}

// BuildSpecs turns freshly stored image urls into specs with the image at
// representativeIndex flagged as representative.
func BuildSpecs(urls []string, representativeIndex int) ([]domain.ImageSpec, error) {
	if err := CheckCount(len(urls)); err != nil {
		return nil, err
	}
	if representativeIndex < 0 || representativeIndex >= len(urls) {
		return nil, ErrInvalidRepresentativeIndex
	}

	specs := make([]domain.ImageSpec, len(urls))
	for i, url := range urls {
		specs[i] = domain.ImageSpec{URL: url, IsRepresentative: i == representativeIndex}
	}
	return specs, nil
}

// Validate checks caller-supplied specs: count in range, non-empty urls and
// exactly one representative flag.
func Validate(specs []domain.ImageSpec) error {
	if err := CheckCount(len(specs)); err != nil {
		return err
	}

	representatives := 0
	for _, spec := range specs {
		if spec.URL == "" {
			return ErrEmptyImageURL
		}
		if spec.IsRepresentative {
			representatives++
		}
	}

	switch {
	case representatives == 0:
		return ErrNoRepresentativeImage
	case representatives > 1:
		return ErrMultipleRepresentativeImages
	}
	return nil
}

// CheckCount fails unless n is within [MinImages, MaxImages]
func CheckCount(n int) error {
	if n < MinImages || n > MaxImages {
		return ErrInvalidImageCount
	}
	return nil
}
