package archive

import (
	"os"
	"sync"
)

// utf8Locale is the process-wide, reference-counted locale adjustment that
// makes locale-sensitive collaborators interpret entry names as UTF-8. The
// first acquire saves the previous LC_ALL/LC_CTYPE values and installs a
// UTF-8 locale; the last release restores them. Reference counting keeps
// nesting and concurrently-alive iterators safe.
var utf8Locale struct {
	mu        sync.Mutex
	count     int
	prevAll   string
	hadAll    bool
	prevCtype string
	hadCtype  bool
}

const utf8LocaleName = "C.UTF-8"

// utf8Guard keeps the UTF-8 locale adjustment alive. Release returns the
// adjustment; releasing more than once is a no-op.
type utf8Guard struct {
	released bool
}

func acquireUTF8Locale() *utf8Guard {
	l := &utf8Locale
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		l.prevAll, l.hadAll = os.LookupEnv("LC_ALL")
		l.prevCtype, l.hadCtype = os.LookupEnv("LC_CTYPE")
		os.Setenv("LC_ALL", utf8LocaleName)
		os.Setenv("LC_CTYPE", utf8LocaleName)
	}
	l.count++
	return &utf8Guard{}
}

func (g *utf8Guard) release() {
	if g == nil || g.released {
		return
	}
	g.released = true

	l := &utf8Locale
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count--
	if l.count > 0 {
		return
	}
	restoreEnv("LC_ALL", l.prevAll, l.hadAll)
	restoreEnv("LC_CTYPE", l.prevCtype, l.hadCtype)
}

func restoreEnv(key, prev string, had bool) {
	if had {
		os.Setenv(key, prev)
		return
	}
	os.Unsetenv(key)
}
