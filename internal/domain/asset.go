package domain

// GeneratedAsset is a 3D artifact returned by the asset generation service.
type GeneratedAsset struct {
	ID          string            `json:"id"`
	DownloadURL string            `json:"download_url,omitempty"`
	PreviewURL  string            `json:"preview_url,omitempty"`
	FormatURLs  map[string]string `json:"format_urls,omitempty"`
	Format      string            `json:"format,omitempty"`
	Status      string            `json:"status,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the asset.
func (a *GeneratedAsset) Clone() *GeneratedAsset {
	if a == nil {
		return nil
	}
	out := *a
	if a.FormatURLs != nil {
		out.FormatURLs = make(map[string]string, len(a.FormatURLs))
		for k, v := range a.FormatURLs {
			out.FormatURLs[k] = v
		}
	}
	if a.Metadata != nil {
		out.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
