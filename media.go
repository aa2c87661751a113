package wordpress

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bradenaw/juniper/xslices"
)

type Media struct {
	ID       int64  `json:"ID"`
	SiteID   int64  `json:"site_ID"`
	File     string `json:"file"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// MediaFile is a file to upload to a site's media library.
// Either Path or Data must be set; files read from Path are streamed when large.
type MediaFile struct {
	Filename string
	MIMEType string
	Path     string
	Data     []byte
}

// UploadMedia uploads files to the site's media library as a multipart body.
// Progress, if given through WithProgress, follows the upload.
func (c *Client) UploadMedia(ctx context.Context, siteID int64, files []MediaFile, opts ...CallOption) ([]Media, error) {
	fields := xslices.Map(files, func(file MediaFile) MultipartField {
		return MultipartField{
			Name:     "media[]",
			Filename: file.Filename,
			MIMEType: file.MIMEType,
			Path:     file.Path,
			Data:     file.Data,
		}
	})

	req, err := c.NewRequestBuilder().
		Method(http.MethodPost).
		Path(c.Path("sites/"+strconv.FormatInt(siteID, 10)+"/media/new", "1.1")).
		MultipartBody(fields...).
		Build()
	if err != nil {
		return nil, NewRequestEncodingError[RESTError](err)
	}

	res := DecodeSuccess[struct {
		Media []Media `json:"media"`
	}](c.Perform(ctx, req, opts...))

	return MapSuccess(res, func(res struct {
		Media []Media `json:"media"`
	}) []Media {
		return res.Media
	}).Get()
}

// GetMedia lists the media of a site.
func (c *Client) GetMedia(ctx context.Context, siteID int64) ([]Media, error) {
	type mediaList struct {
		Found int     `json:"found"`
		Media []Media `json:"media"`
	}

	return MapSuccess(
		GetJSON[mediaList](ctx, c, c.Path("sites/"+strconv.FormatInt(siteID, 10)+"/media", "1.1"), nil),
		func(list mediaList) []Media { return list.Media },
	).Get()
}
