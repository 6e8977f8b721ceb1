package merger

import (
	"sync"

	"github.com/slsp/almamerge/pkg/browser"
)

// fakePage records UI actions and fails them on demand.
type fakePage struct {
	mu sync.Mutex

	// actions is the ordered log, e.g. "click #simpleSearchBtn"
	actions []string

	// failures are consumed in order for each selector; a nil entry succeeds
	failures map[string][]error

	checked map[string]bool
	frame   string
	frames  []string
	settles int
}

func newFakePage() *fakePage {
	return &fakePage{
		failures: make(map[string][]error),
		checked:  make(map[string]bool),
	}
}

// failOn queues errors returned by the next actions on selector.
func (p *fakePage) failOn(selector string, errs ...error) {
	p.failures[selector] = append(p.failures[selector], errs...)
}

func (p *fakePage) next(selector string) error {
	queue := p.failures[selector]
	if len(queue) == 0 {
		return nil
	}
	p.failures[selector] = queue[1:]
	return queue[0]
}

func (p *fakePage) record(action, selector, detail string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, action+" "+selector+detail)
	return p.next(selector)
}

func (p *fakePage) Navigate(url string, _ browser.NavigateOptions) error {
	p.frame = ""
	return p.record("navigate", url, "")
}

func (p *fakePage) Click(opts browser.ClickOptions) error {
	if err := p.record("click", opts.Selector, ""); err != nil {
		return err
	}
	for _, param := range CopyOptions {
		if opts.Selector == checkboxLabelSelector(param) {
			p.checked[param] = true
		}
	}
	return nil
}

func (p *fakePage) Fill(opts browser.FillOptions) error {
	return p.record("fill", opts.Selector, "="+opts.Value)
}

func (p *fakePage) Wait(opts browser.WaitOptions) error {
	return p.record("wait", opts.Selector, "")
}

func (p *fakePage) IsChecked(selector string) (bool, error) {
	if err := p.record("checked?", selector, ""); err != nil {
		return false, err
	}
	for _, param := range CopyOptions {
		if selector == checkboxSelector(param) {
			return p.checked[param], nil
		}
	}
	return false, nil
}

func (p *fakePage) EnterFrame(selector string) error {
	if err := p.record("enter", selector, ""); err != nil {
		return err
	}
	p.frame = selector
	p.frames = append(p.frames, selector)
	return nil
}

func (p *fakePage) LeaveFrame() {
	p.frame = ""
}

func (p *fakePage) Settle() {
	p.settles++
}

func (p *fakePage) did(action string) bool {
	for _, a := range p.actions {
		if a == action {
			return true
		}
	}
	return false
}

func (p *fakePage) count(action string) int {
	n := 0
	for _, a := range p.actions {
		if a == action {
			n++
		}
	}
	return n
}

// fakeLauncher hands out fakePages.
type fakeLauncher struct {
	pages     []*fakePage
	launchErr error
	closed    []string

	// prepare configures each page before it is returned
	prepare func(*fakePage)
}

func (l *fakeLauncher) Launch(name string) (Page, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	page := newFakePage()
	if l.prepare != nil {
		l.prepare(page)
	}
	l.pages = append(l.pages, page)
	return page, nil
}

func (l *fakeLauncher) Close(name string) {
	l.closed = append(l.closed, name)
}
