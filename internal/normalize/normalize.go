// Package normalize turns raw scraped channels into canonical ones: name
// exclusion filters, SD-vs-HD dedup, and template dictionary matching.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kelvane/tellyvault/internal/models"
)

// TemplateLookup resolves an upstream channel id to its template entry, or
// nil when the dictionary has no match.
type TemplateLookup func(channelID string) *models.TemplateEntry

// Options configures one normalization pass.
type Options struct {
	ExcludePatterns []string // regexps matched against the raw channel name
	FilterSD        bool     // drop SD channels that have an exact HD sibling
	Lookup          TemplateLookup
}

// Channels applies exclusion, SD dedup, and template matching, in that
// order. Raw channels sharing a channel id are passed through untouched;
// upsert semantics at persistence time resolve them (last one wins).
func Channels(raw []models.RawChannel, opts Options) ([]models.Channel, error) {
	patterns, err := compile(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	kept := make([]models.RawChannel, 0, len(raw))
	for _, rc := range raw {
		if matchesAny(patterns, rc.Name()) {
			continue
		}
		kept = append(kept, rc)
	}

	if opts.FilterSD {
		kept = dropSDSiblings(kept)
	}

	out := make([]models.Channel, 0, len(kept))
	for _, rc := range kept {
		out = append(out, fromRaw(rc, opts.Lookup))
	}
	return out, nil
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

func matchesAny(patterns []*regexp.Regexp, name string) bool {
	for _, re := range patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// dropSDSiblings removes a channel only when a differently-named HD sibling
// exists whose name equals exactly name+marker. Structurally different HD
// names are not recognised; this is a plain string heuristic.
func dropSDSiblings(channels []models.RawChannel) []models.RawChannel {
	hdNames := make(map[string]struct{})
	for _, ch := range channels {
		if name := ch.Name(); strings.Contains(name, models.HDMarker) {
			hdNames[name] = struct{}{}
		}
	}
	out := channels[:0]
	for _, ch := range channels {
		if _, hasHD := hdNames[ch.Name()+models.HDMarker]; hasHD {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// fromRaw maps upstream fields onto a Channel and applies the template
// override: on a dictionary hit the canonical name and category win, on a
// miss the raw name stays and the category is the uncategorized sentinel.
func fromRaw(rc models.RawChannel, lookup TemplateLookup) models.Channel {
	ch := models.Channel{
		ChannelID:     rc["ChannelID"],
		Name:          rc["ChannelName"],
		URL:           rc["ChannelURL"],
		UserChannelID: rc["UserChannelID"],
		TimeShift:     rc["TimeShift"],
		SDPURL:        rc["ChannelSDP"],
		LogoURL:       rc["ChannelLogURL"],
		Position:      rc["Positon"],
		Category:      models.CategoryUncategorized,
		Status:        models.ChannelStatusEnabled,
	}
	if lookup != nil {
		if tpl := lookup(ch.ChannelID); tpl != nil {
			if tpl.Name != "" {
				ch.Name = tpl.Name
			}
			if tpl.GroupTitle != "" {
				ch.Category = tpl.GroupTitle
			}
		}
	}
	return ch
}
