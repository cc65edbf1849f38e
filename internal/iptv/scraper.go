package iptv

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kelvane/tellyvault/internal/models"
)

// reChannelCall matches the inline script call that defines one channel. The
// single argument is a quoted key/value blob.
var reChannelCall = regexp.MustCompile(`Authentication\.CTCSetConfig\('Channel','(.+?)'\)`)

// Channels POSTs the channel-listing page and extracts one RawChannel per
// matching script fragment. Zero fragments is not an error; the empty result
// is the caller's signal that authentication may have silently failed.
func (s *Session) Channels(ctx context.Context) ([]models.RawChannel, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("%w: session not authenticated", ErrScrape)
	}
	resp, err := s.do(ctx, http.MethodPost, s.BaseURL+"/EPG/jsp/getchannellistHWCTC.jsp", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScrape, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		drain(resp)
		return nil, fmt.Errorf("%w: HTTP %d", ErrScrape, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse markup: %v", ErrScrape, err)
	}
	return extractChannels(doc), nil
}

// extractChannels walks every <script> element and parses each channel
// definition call found in its text.
func extractChannels(doc *html.Node) []models.RawChannel {
	var channels []models.RawChannel
	for node := range doc.Descendants() {
		if node.Type != html.ElementNode || node.DataAtom != atom.Script {
			continue
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.TextNode {
				continue
			}
			for _, m := range reChannelCall.FindAllStringSubmatch(child.Data, -1) {
				channels = append(channels, parseChannelParams(m[1]))
			}
		}
	}
	return channels
}

// parseChannelParams splits the call argument on the `",` delimiter and each
// piece on its first `="`. Upstream key names are kept verbatim, misspellings
// included (Positon), so downstream consumers see exactly what the service
// sent.
func parseChannelParams(params string) models.RawChannel {
	ch := make(models.RawChannel)
	for _, part := range strings.Split(params, `",`) {
		key, value, ok := strings.Cut(part, `="`)
		if !ok {
			continue
		}
		ch[key] = value
	}
	return ch
}
