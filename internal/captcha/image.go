package captcha

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"gradewatch/internal/surface"
)

// ExtractImage returns the CAPTCHA image inside container as base64. The
// primary selector is tried first, then the fallback. An inline data uri is
// returned as is, anything else is screenshotted.
func ExtractImage(ctx context.Context, container surface.Finder, selector, fallback string) (string, error) {
	var image surface.Element
	if selector != "" {
		image = surface.First(ctx, container, selector)
	}
	if image == nil && fallback != "" {
		image = surface.First(ctx, container, fallback)
	}
	if image == nil {
		return "", errors.New("no element matches the captcha image selectors")
	}

	src, err := image.Attribute(ctx, "src")
	if err == nil && strings.HasPrefix(src, "data:image") {
		if _, data, ok := strings.Cut(src, ","); ok {
			return data, nil
		}
	}

	shot, err := image.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot captcha: %w", err)
	}
	if len(shot) == 0 {
		return "", errors.New("screenshot captcha: empty image")
	}
	return base64.StdEncoding.EncodeToString(shot), nil
}

// Refresh asks the portal for a new CAPTCHA, through the refresh control
// when there is one and by clicking the image otherwise.
func Refresh(ctx context.Context, container surface.Finder, refresh, image, fallback string) error {
	if e := surface.First(ctx, container, refresh); e != nil {
		return e.Click(ctx)
	}
	selector := image
	if selector == "" {
		selector = fallback
	}
	if e := surface.First(ctx, container, selector); e != nil {
		return e.Click(ctx)
	}
	return nil
}
