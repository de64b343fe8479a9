package runner

import (
	"bufio"
	"bytes"
	"math/rand"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TemplateEngine renders request URLs, headers and bodies per iteration
type TemplateEngine struct {
	fileCache map[string][]string
	mu        sync.RWMutex
	funcMap   template.FuncMap

	parsed sync.Map // text -> *template.Template
}

// TemplateData is passed to the execution context
type TemplateData struct {
	VU   int
	Iter int64
	UUID string
}

// NewTemplateEngine initializes the engine and its functions
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		fileCache: make(map[string][]string),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.randomUUID,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
	}

	return e
}

// Preprocess converts simple variables {{vu}} to Go template syntax {{.VU}}
func (e *TemplateEngine) Preprocess(input string) string {
	s := input
	s = strings.ReplaceAll(s, "{{vu}}", "{{.VU}}")
	s = strings.ReplaceAll(s, "{{iter}}", "{{.Iter}}")
	s = strings.ReplaceAll(s, "{{uuid}}", "{{.UUID}}")
	s = strings.ReplaceAll(s, "{{requestID}}", "{{.UUID}}")
	return s
}

// Parse creates a new template with the engine's functions
func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(e.funcMap).Option("missingkey=error").Parse(e.Preprocess(text))
}

// Render expands text for one iteration. Plain text is returned as is and
// parsed templates are cached by their source.
func (e *TemplateEngine) Render(text string, data TemplateData) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	var t *template.Template
	if cached, ok := e.parsed.Load(text); ok {
		t = cached.(*template.Template)
	} else {
		var err error
		if t, err = e.Parse("request", text); err != nil {
			return "", err
		}
		e.parsed.Store(text, t)
	}

	if data.UUID == "" && strings.Contains(e.Preprocess(text), ".UUID") {
		data.UUID = uuid.NewString()
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Validate parses text once so broken templates fail before the run starts.
func (e *TemplateEngine) Validate(text string) error {
	if !strings.Contains(text, "{{") {
		return nil
	}
	_, err := e.Parse("request", text)
	return err
}

// ValidateRequest checks every templated part of req.
func (e *TemplateEngine) ValidateRequest(req Request) error {
	if err := e.Validate(req.URL); err != nil {
		return errors.Wrap(err, "url template")
	}
	if err := e.Validate(req.Body); err != nil {
		return errors.Wrap(err, "body template")
	}
	for k, v := range req.Headers {
		if err := e.Validate(v); err != nil {
			return errors.Wrapf(err, "header %s template", k)
		}
	}
	return nil
}

// --- Functions ---

func (e *TemplateEngine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return rand.Intn(max-min) + min
}

func (e *TemplateEngine) randomUUID() string {
	return uuid.NewString()
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	return pick(choices)
}

// randomLine returns a random non-blank line of filename. Files are read once.
func (e *TemplateEngine) randomLine(filename string) (string, error) {
	lines, err := e.lines(filename)
	if err != nil {
		return "", err
	}
	return pick(lines), nil
}

func (e *TemplateEngine) lines(filename string) ([]string, error) {
	e.mu.RLock()
	lines, ok := e.fileCache[filename]
	e.mu.RUnlock()
	if ok {
		return lines, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if lines, ok = e.fileCache[filename]; ok {
		return lines, nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "randomLine %s", filename)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "randomLine %s", filename)
	}
	e.fileCache[filename] = lines
	return lines, nil
}

func pick(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[rand.Intn(len(list))]
}
