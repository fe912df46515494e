package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// fakeSite maps URLs to HTML served by fake pages
type fakeSite struct {
	mu     sync.Mutex
	pages  map[string]string
	status map[string]int
}

func newFakeSite(pages map[string]string) *fakeSite {
	return &fakeSite{pages: pages, status: map[string]int{}}
}

func (s *fakeSite) get(url string) (string, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	html, ok := s.pages[url]
	status := s.status[url]
	if status == 0 {
		status = 200
	}
	return html, status, ok
}

// fakePage is an in-memory Page backed by goquery
type fakePage struct {
	site *fakeSite

	mu          sync.Mutex
	url         string
	html        string
	text        string
	values      map[string]string
	visible     map[string]bool
	clickErr    map[string]error
	files       map[string][]string
	selected    map[string]string
	clicks      []string
	navigations []string
	unstick     map[string]int
	submitted   bool
	alive       bool
	closed      bool
}

func newFakePage(site *fakeSite) *fakePage {
	return &fakePage{
		site:     site,
		url:      "about:blank",
		values:   map[string]string{},
		visible:  map[string]bool{},
		clickErr: map[string]error{},
		files:    map[string][]string{},
		selected: map[string]string{},
		unstick:  map[string]int{},
		alive:    true,
	}
}

func (p *fakePage) doc() *goquery.Document {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(p.html))
	return doc
}

func (p *fakePage) check() error {
	if p.closed || !p.alive {
		return errors.New("target closed")
	}
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) (int, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return 0, "", err
	}
	p.navigations = append(p.navigations, url)
	html, status, ok := p.site.get(url)
	if !ok {
		return 0, "", fmt.Errorf("net::ERR_NAME_NOT_RESOLVED")
	}
	p.url, p.html = url, html
	p.text = p.doc().Find("body").Text()
	p.values = map[string]string{}
	return status, url, nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.check()
}

func (p *fakePage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc().Find("title").Text(), p.check()
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, p.check()
}

func (p *fakePage) VisibleText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text, p.check()
}

func (p *fakePage) Count(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc().Find(selector).Length(), p.check()
}

func (p *fakePage) IsVisible(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[selector], p.check()
}

func (p *fakePage) Element(ctx context.Context, selector string) (*ElementInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return nil, err
	}
	el := p.doc().Find(selector).First()
	if el.Length() == 0 {
		return &ElementInfo{}, nil
	}
	_, multiple := el.Attr("multiple")
	return &ElementInfo{
		Exists:   true,
		Tag:      goquery.NodeName(el),
		Type:     strings.ToLower(el.AttrOr("type", "")),
		Multiple: multiple,
	}, nil
}

func (p *fakePage) SetValue(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	if p.unstick[selector] > 0 {
		p.unstick[selector]--
		p.values[selector] = ""
		return nil
	}
	p.values[selector] = value
	return nil
}

func (p *fakePage) Value(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector], p.check()
}

func (p *fakePage) Options(ctx context.Context, selector string) ([]SelectOption, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []SelectOption
	p.doc().Find(selector).First().Find("option").Each(func(_ int, o *goquery.Selection) {
		text := strings.TrimSpace(o.Text())
		out = append(out, SelectOption{Value: o.AttrOr("value", text), Text: text})
	})
	return out, p.check()
}

func (p *fakePage) SelectOption(ctx context.Context, selector, optionValue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected[selector] = optionValue
	return p.check()
}

func (p *fakePage) SetFiles(ctx context.Context, selector string, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[selector] = paths
	return p.check()
}

func (p *fakePage) click(selector, method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	if err := p.clickErr[method+":"+selector]; err != nil {
		return err
	}
	p.clicks = append(p.clicks, method+":"+selector)
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	return p.click(selector, "click")
}

func (p *fakePage) ForceClick(ctx context.Context, selector string) error {
	return p.click(selector, "force")
}

func (p *fakePage) DispatchClick(ctx context.Context, selector string) error {
	return p.click(selector, "dispatch")
}

func (p *fakePage) SubmitForm(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return false, err
	}
	if p.doc().Find("form").Length() == 0 {
		return false, nil
	}
	p.submitted = true
	return true, nil
}

func (p *fakePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return []byte("\x89PNG fake"), p.check()
}

func (p *fakePage) Alive(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.check() == nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) kill() {
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
}

// fakeBrowser hands out fakePages over one site
type fakeBrowser struct {
	site *fakeSite

	mu     sync.Mutex
	pages  []*fakePage
	closed bool
}

func (b *fakeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser closed")
	}
	p := newFakePage(b.site)
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBrowser) lastPage() *fakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pages) == 0 {
		return nil
	}
	return b.pages[len(b.pages)-1]
}

func (b *fakeBrowser) pageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}

func fakeLauncher(b *fakeBrowser) Launcher {
	return func(ctx context.Context) (Browser, error) {
		return b, nil
	}
}
