package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kelvane/tellyvault/internal/models"
)

// Export formats.
const (
	FormatM3U = "m3u"
	FormatTXT = "txt"
)

// ExportPlaylist renders the enabled channels of a source as a playlist.
// m3u produces an #EXTM3U document with group-title attributes; txt produces
// the "group,#genre#" sectioned format used by diyp-style players.
func (s *Service) ExportPlaylist(ctx context.Context, sourceID int64, format string) (string, error) {
	enabled := models.ChannelStatusEnabled
	channels, err := s.store.ListChannelsBySource(ctx, sourceID, &enabled)
	if err != nil {
		return "", err
	}

	switch format {
	case FormatM3U, "":
		return renderM3U(channels), nil
	case FormatTXT:
		return renderTXT(channels), nil
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}

func renderM3U(channels []models.Channel) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, ch := range channels {
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-id=%q tvg-name=%q tvg-logo=%q group-title=%q,%s\n",
			ch.ChannelID, ch.Name, ch.LogoURL, ch.Category, ch.Name)
		b.WriteString(ch.URL)
		b.WriteByte('\n')
	}
	return b.String()
}

// renderTXT groups channels by category, preserving first-seen group order.
func renderTXT(channels []models.Channel) string {
	var order []string
	groups := make(map[string][]models.Channel)
	for _, ch := range channels {
		if _, ok := groups[ch.Category]; !ok {
			order = append(order, ch.Category)
		}
		groups[ch.Category] = append(groups[ch.Category], ch)
	}

	var b strings.Builder
	for _, category := range order {
		fmt.Fprintf(&b, "%s,#genre#\n", category)
		for _, ch := range groups[category] {
			fmt.Fprintf(&b, "%s,%s\n", ch.Name, ch.URL)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}
