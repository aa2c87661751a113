package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/bradenaw/juniper/xslices"
)

// Call is a request received by the server, along with the response it was given.
type Call struct {
	URL    *url.URL
	Method string
	Status int

	RequestHeader http.Header
	RequestBody   []byte

	ResponseHeader http.Header
	ResponseBody   []byte
}

type callWatcher struct {
	paths []string
	fn    func(Call)
}

// newCallWatcher watches calls to any of the given path prefixes, or to every path if none are given.
func newCallWatcher(fn func(Call), paths ...string) callWatcher {
	return callWatcher{
		paths: paths,
		fn:    fn,
	}
}

func (watcher callWatcher) isWatching(path string) bool {
	if len(watcher.paths) == 0 {
		return true
	}

	return xslices.IndexFunc(watcher.paths, func(prefix string) bool {
		return strings.HasPrefix(path, prefix)
	}) >= 0
}

func (watcher callWatcher) publish(call Call) {
	watcher.fn(call)
}
