// Package typo implements the pure-function text humanizer: casual-phrase
// substitution followed by per-codepoint homophone noise.
package typo

import (
	"math/rand"
	"regexp"
)

// Config controls the two independent noise stages.
type Config struct {
	Enabled         bool
	ErrorRate       float64 // per-codepoint homophone substitution probability
	WordReplaceRate float64 // probability the casual-phrase pass runs at all
}

// DefaultConfig matches the defaults named in the typo generator contract.
func DefaultConfig() Config {
	return Config{Enabled: true, ErrorRate: 0.03, WordReplaceRate: 0.10}
}

type phraseReplacement struct {
	pattern *regexp.Regexp
	replace string
}

// casualPhrases is an ordered list; the first match wins, mirroring the
// "scan an ordered list... apply the first match" contract.
var casualPhrases = []phraseReplacement{
	{regexp.MustCompile(`你好`), "嗨"},
	{regexp.MustCompile(`谢谢你`), "谢啦"},
	{regexp.MustCompile(`没有问题`), "没问题"},
	{regexp.MustCompile(`怎么样`), "咋样"},
	{regexp.MustCompile(`什么`), "啥"},
	{regexp.MustCompile(`(?i)\bI am\b`), "I'm"},
	{regexp.MustCompile(`(?i)\byou are\b`), "you're"},
	{regexp.MustCompile(`(?i)\bgoing to\b`), "gonna"},
	{regexp.MustCompile(`(?i)\bwant to\b`), "wanna"},
}

// homophones maps a handful of common CJK characters to visually/phonetically
// similar stand-ins, used for single-codepoint substitution noise.
var homophones = map[rune][]rune{
	'的': {'地', '得'},
	'了': {'啦', '咧'},
	'是': {'似', '事'},
	'吗': {'嘛', '么'},
	'吧': {'罢', '八'},
	'在': {'再'},
	'你': {'妮'},
	'她': {'他'},
	'和': {'合'},
	'就': {'鸠'},
}

// Apply runs both noise stages over text, returning it unchanged when
// cfg.Enabled is false (invariant: identity when disabled).
func Apply(text string, cfg Config) string {
	if !cfg.Enabled {
		return text
	}
	text = applyPhraseReplacement(text, cfg.WordReplaceRate)
	return applyHomophoneNoise(text, cfg.ErrorRate)
}

func applyPhraseReplacement(text string, rate float64) string {
	if rand.Float64() >= rate {
		return text
	}
	for _, p := range casualPhrases {
		if p.pattern.MatchString(text) {
			return p.pattern.ReplaceAllString(text, p.replace)
		}
	}
	return text
}

func applyHomophoneNoise(text string, rate float64) string {
	runes := []rune(text)
	out := make([]rune, len(runes))
	for i, r := range runes {
		out[i] = r
		if rand.Float64() >= rate {
			continue
		}
		if candidates, ok := homophones[r]; ok && len(candidates) > 0 {
			out[i] = candidates[rand.Intn(len(candidates))]
		}
	}
	return string(out)
}
