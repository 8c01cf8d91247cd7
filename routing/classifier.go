package routing

import (
	"fmt"
	"regexp"

	"shellproxy/apigw"
)

// Rule - предикат над запросом и класс, который он назначает
type Rule struct {
	Name  string
	Class Class
	Match func(req *apigw.Request) bool
}

// URLPattern проверяет шаблон по полному URL
func URLPattern(class Class, re *regexp.Regexp) Rule {
	return Rule{
		Name:  "url:" + re.String(),
		Class: class,
		Match: func(req *apigw.Request) bool {
			return re.MatchString(req.URL.String())
		},
	}
}

// PathPattern проверяет шаблон только по пути
func PathPattern(class Class, re *regexp.Regexp) Rule {
	return Rule{
		Name:  "path:" + re.String(),
		Class: class,
		Match: func(req *apigw.Request) bool {
			return re.MatchString(req.URL.Path)
		},
	}
}

// NavigationRule срабатывает на переходы между страницами
func NavigationRule() Rule {
	return Rule{
		Name:  "navigate",
		Class: ClassNavigation,
		Match: func(req *apigw.Request) bool {
			return req.Navigate
		},
	}
}

// Classifier - упорядоченный список правил; побеждает первое совпадение
type Classifier struct {
	rules []Rule
}

// NewClassifier создает классификатор из готовых правил
func NewClassifier(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// NewClassifierFromConfig строит правила в фиксированном порядке:
// network-first по URL, статика по пути, навигация
func NewClassifierFromConfig(config *Config) (*Classifier, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var rules []Rule
	for _, pattern := range config.NetworkFirst {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid network_first pattern %q: %w", pattern, err)
		}
		rules = append(rules, URLPattern(ClassNetworkFirst, re))
	}
	for _, pattern := range config.StaticAssets {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid static_assets pattern %q: %w", pattern, err)
		}
		rules = append(rules, PathPattern(ClassStaticAsset, re))
	}
	rules = append(rules, NavigationRule())

	return NewClassifier(rules...), nil
}

// Classify возвращает класс запроса. Всегда возвращает ровно один класс.
func (c *Classifier) Classify(req *apigw.Request) Class {
	if req == nil || req.URL == nil {
		return ClassDefault
	}
	for _, rule := range c.rules {
		if rule.Match(req) {
			return rule.Class
		}
	}
	return ClassDefault
}
