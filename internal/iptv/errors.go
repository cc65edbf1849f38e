package iptv

import "errors"

// Handshake and scrape error classes. Callers classify failures with
// errors.Is; the wrapped cause carries the transport detail.
var (
	ErrDiscovery = errors.New("iptv: discovery failed")
	ErrToken     = errors.New("iptv: token request failed")
	ErrAuth      = errors.New("iptv: authentication failed")
	ErrScrape    = errors.New("iptv: channel listing request failed")
)
