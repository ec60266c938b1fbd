// Package robots разбирает robots.txt и отвечает, разрешён ли путь для скрейпера.
//
// Поддерживаются директивы User-agent, Allow и Disallow с префиксным сопоставлением.
// Приоритет у самого длинного совпавшего префикса; при равной длине побеждает запрет.
// Пустой набор правил разрешает всё.
package robots

import (
	"bufio"
	"net/url"
	"strings"
)

// Rule — одно правило robots.txt.
type Rule struct {
	Prefix string
	Allow  bool
}

// Ruleset — упорядоченный набор правил для одного продавца.
type Ruleset struct {
	rules []Rule
}

// Empty возвращает набор правил, разрешающий любой путь.
func Empty() *Ruleset {
	return &Ruleset{}
}

func NewRuleset(rules []Rule) *Ruleset {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Ruleset{rules: cp}
}

// Rules возвращает копию правил в порядке их появления в файле.
func (r *Ruleset) Rules() []Rule {
	if r == nil {
		return nil
	}
	cp := make([]Rule, len(r.rules))
	copy(cp, r.rules)
	return cp
}

func (r *Ruleset) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// IsAllowed принимает абсолютный URL или путь (с query) и проверяет его по правилам.
func (r *Ruleset) IsAllowed(target string) bool {
	if r == nil || len(r.rules) == 0 {
		return true
	}

	path := requestPath(target)

	bestLen := -1
	allowed := true
	for _, rule := range r.rules {
		if !strings.HasPrefix(path, rule.Prefix) {
			continue
		}

		l := len(rule.Prefix)
		switch {
		case l > bestLen:
			bestLen = l
			allowed = rule.Allow
		case l == bestLen && !rule.Allow:
			allowed = false
		}
	}

	return allowed
}

// Parse разбирает тело robots.txt. Сохраняются правила групп, адресованных userAgent;
// если таких групп нет — правила групп "*".
func Parse(body string, userAgent string) *Ruleset {
	token := agentToken(userAgent)

	var (
		wildcard    []Rule
		own         []Rule
		ownMatched  bool
		groupAgents []string
		inRules     bool
	)

	appendRule := func(rule Rule) {
		for _, agent := range groupAgents {
			switch {
			case agent == "*":
				wildcard = append(wildcard, rule)
			case token != "" && token == agent:
				own = append(own, rule)
			}
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			// Новая группа начинается, если до этого уже шли правила
			if inRules {
				groupAgents = nil
				inRules = false
			}
			agent := strings.ToLower(value)
			groupAgents = append(groupAgents, agent)
			if agent != "*" && token != "" && token == agent {
				ownMatched = true
			}
		case "allow", "disallow":
			inRules = true
			if value == "" {
				// "Disallow:" без значения ничего не запрещает
				continue
			}
			prefix, ok := normalizePrefix(value)
			if !ok {
				continue
			}
			appendRule(Rule{Prefix: prefix, Allow: key == "allow"})
		default:
			// crawl-delay, sitemap и прочее не влияют на группы
		}
	}

	if ownMatched {
		return &Ruleset{rules: own}
	}

	return &Ruleset{rules: wildcard}
}

// agentToken выделяет имя продукта из строки User-Agent: "PriceSyncBot/1.0 (+url)" -> "pricesyncbot".
func agentToken(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if idx := strings.IndexAny(ua, "/ ("); idx >= 0 {
		ua = ua[:idx]
	}
	return ua
}

// normalizePrefix сводит значение правила к префиксу. Шаблоны '*' и '$' не поддерживаются:
// берётся литеральная часть до спецсимвола, а шаблон вида "/*.pdf", от которого остаётся
// только корень, отбрасывается, иначе он запретил бы весь сайт.
func normalizePrefix(v string) (string, bool) {
	if idx := strings.IndexAny(v, "*$"); idx >= 0 {
		literal := v[:idx]
		if (literal == "" || literal == "/") && v != "*" && v != "/*" {
			return "", false
		}
		v = literal
	}
	if !strings.HasPrefix(v, "/") {
		v = "/" + v
	}
	return v, true
}

func requestPath(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}
