package backend

import (
	"fmt"

	"github.com/bradenaw/juniper/xslices"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// CreateMedia records an uploaded file in the user's site.
func (b *Backend) CreateMedia(userID, siteID int64, file, mimeType string, size int64) (Media, error) {
	return withAcc(b, userID, func(acc *account) (Media, error) {
		if siteID != acc.primaryBlog {
			return Media{}, fmt.Errorf("site %v does not belong to user %v", siteID, userID)
		}

		m := &media{
			Media: Media{
				ID:       b.newID(),
				SiteID:   siteID,
				File:     file,
				MIMEType: mimeType,
				Size:     size,
			},
			userID: userID,
		}

		b.media[m.ID] = m

		return m.Media, nil
	})
}

// GetMedia returns the media of a site, oldest first.
func (b *Backend) GetMedia(siteID int64) []Media {
	b.lock.RLock()
	defer b.lock.RUnlock()

	ids := maps.Keys(b.media)
	slices.Sort(ids)

	return xslices.Map(
		xslices.Filter(ids, func(id int64) bool { return b.media[id].SiteID == siteID }),
		func(id int64) Media { return b.media[id].Media },
	)
}
