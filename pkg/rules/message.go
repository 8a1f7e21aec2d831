package rules

import (
	"fmt"
	"strings"
)

// Message 带 ${path} 占位符的消息模板
type Message struct {
	raw   string
	parts []messagePart
}

type messagePart struct {
	text string
	path string
}

// String 返回原始模板
func (m Message) String() string { return m.raw }

// Paths 返回模板引用的字段
func (m Message) Paths() []string {
	var out []string
	for _, p := range m.parts {
		if p.path != "" {
			out = append(out, p.path)
		}
	}
	return out
}

type unknownFieldError struct {
	path string
}

func (e *unknownFieldError) Error() string {
	return fmt.Sprintf("消息引用了未知字段 %q", e.path)
}

// compileMessage 解析占位符，未注册的字段返回错误
func compileMessage(reg *Registry, s string) (Message, error) {
	m := Message{raw: s}
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			break
		}
		path := strings.TrimSpace(rest[start+2 : start+end])
		if _, ok := reg.Lookup(path); !ok {
			return Message{}, &unknownFieldError{path: path}
		}
		if start > 0 {
			m.parts = append(m.parts, messagePart{text: rest[:start]})
		}
		m.parts = append(m.parts, messagePart{path: path})
		rest = rest[start+end+1:]
	}
	if rest != "" {
		m.parts = append(m.parts, messagePart{text: rest})
	}
	return m, nil
}

// Render 用事实填充占位符，缺失值显示为 ?
func (m Message) Render(reg *Registry, facts *Facts) string {
	if reg == nil {
		reg = DefaultRegistry()
	}
	var b strings.Builder
	for _, p := range m.parts {
		if p.path == "" {
			b.WriteString(p.text)
			continue
		}
		f, ok := reg.Lookup(p.path)
		if !ok {
			b.WriteString("?")
			continue
		}
		v, ok := safeGet(f, facts)
		if !ok {
			b.WriteString("?")
			continue
		}
		b.WriteString(v.String())
	}
	return b.String()
}
