// Package emoji implements the sticker registry: boot-time directory
// scanning and registration, inbound-image download and registration, and
// emotion-driven weighted pick for outbound replies.
package emoji

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/pkg/llm"
)

// Config controls the emoji directory, multimodal capability, and send rate.
type Config struct {
	Enabled         bool
	EmojiDir        string
	SendProbability float64
	IsMultimodal    bool
	Model           string
}

// DefaultConfig matches the defaults named in the emoji system contract.
func DefaultConfig() Config {
	return Config{Enabled: true, EmojiDir: "emojis", SendProbability: 0.2}
}

var allowedExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// keywordCues is the quick classifier's small Chinese+English cue list,
// checked before falling back to the LLM.
var keywordCues = []struct {
	emotion store.Emotion
	cues    []string
}{
	{store.EmotionHappy, []string{"哈哈", "开心", "太好了", "haha", "lol", "great", "awesome"}},
	{store.EmotionSad, []string{"难过", "伤心", "哭", "sad", "cry", ":("}},
	{store.EmotionAngry, []string{"生气", "气死", "angry", "mad", "wtf"}},
	{store.EmotionSurprised, []string{"惊讶", "天哪", "omg", "wow", "what"}},
	{store.EmotionConfused, []string{"??", "不懂", "confused", "huh"}},
	{store.EmotionLove, []string{"爱", "喜欢", "love", "<3"}},
	{store.EmotionFunny, []string{"笑死", "搞笑", "lmao", "funny"}},
	{store.EmotionTired, []string{"累", "困", "tired", "sleepy"}},
}

// System registers, tags, and picks emojis.
type System struct {
	cfg    Config
	st     *store.Store
	client *llm.Client
	http   *http.Client
}

// New wires a System against the store and LLM client.
func New(st *store.Store, client *llm.Client, cfg Config) *System {
	return &System{cfg: cfg, st: st, client: client, http: &http.Client{Timeout: 10 * time.Second}}
}

// ScanDirectory registers any image under cfg.EmojiDir not already in the
// store, tagging each with analyzeEmotion. Intended to run once at boot.
func (s *System) ScanDirectory(ctx context.Context) error {
	if !s.cfg.Enabled || s.cfg.EmojiDir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.cfg.EmojiDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("emoji: read dir: %w", err)
	}

	existing, err := s.st.GetAll()
	if err != nil {
		return fmt.Errorf("emoji: get all: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, e := range existing {
		known[e.FileName] = true
	}

	for _, entry := range entries {
		if entry.IsDir() || !allowedExt[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		if known[entry.Name()] {
			continue
		}
		if err := s.registerFile(ctx, entry.Name()); err != nil {
			log.Printf("[WARN] emoji: register %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// RegisterInboundImage downloads url into cfg.EmojiDir and registers it.
func (s *System) RegisterInboundImage(ctx context.Context, url string) error {
	if !s.cfg.Enabled || s.cfg.EmojiDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.EmojiDir, 0o755); err != nil {
		return fmt.Errorf("emoji: mkdir: %w", err)
	}

	data, contentType, err := s.download(ctx, url)
	if err != nil {
		return fmt.Errorf("emoji: download: %w", err)
	}
	fileName := fmt.Sprintf("%d%s", time.Now().UnixNano(), extFromContentType(contentType))
	if err := os.WriteFile(filepath.Join(s.cfg.EmojiDir, fileName), data, 0o644); err != nil {
		return fmt.Errorf("emoji: write: %w", err)
	}

	return s.registerImage(ctx, fileName, data, contentType)
}

func (s *System) registerFile(ctx context.Context, fileName string) error {
	data, err := os.ReadFile(filepath.Join(s.cfg.EmojiDir, fileName))
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return s.registerImage(ctx, fileName, data, contentTypeFromExt(fileName))
}

func (s *System) registerImage(ctx context.Context, fileName string, data []byte, contentType string) error {
	description, emotion := s.analyzeEmotion(ctx, fileName, data, contentType)
	return s.st.SaveEmoji(store.Emoji{FileName: fileName, Description: description, Emotion: emotion})
}

type emotionAnalysis struct {
	Description string `json:"description"`
	Emotion     string `json:"emotion"`
}

// analyzeEmotion asks a multimodal model to describe and tag the image; for
// a non-multimodal configuration it falls back to filename/neutral.
func (s *System) analyzeEmotion(ctx context.Context, fileName string, data []byte, contentType string) (description string, emotion store.Emotion) {
	if !s.cfg.IsMultimodal {
		return fileName, store.EmotionNeutral
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, encoded)

	resp, err := s.client.GenerateMultimodal(ctx, llm.MultimodalRequest{
		Model: s.cfg.Model,
		Messages: []llm.Message{{
			Role: "user",
			Content: "Describe this sticker/emoji image in one short phrase and classify its dominant emotion " +
				`as JSON: {"description":"...","emotion":"<one of happy,sad,angry,surprised,disgusted,scared,` +
				`neutral,funny,cute,confused,excited,tired,love>"}`,
			ImageURLs: []string{dataURL},
		}},
		Temperature: 0.2,
		MaxTokens:   150,
	})
	if err != nil {
		log.Printf("[WARN] emoji: analyze %s: %v", fileName, err)
		return fileName, store.EmotionNeutral
	}

	start := strings.IndexByte(resp, '{')
	end := strings.LastIndexByte(resp, '}')
	if start < 0 || end < start {
		return fileName, store.EmotionNeutral
	}
	var analysis emotionAnalysis
	if err := json.Unmarshal([]byte(resp[start:end+1]), &analysis); err != nil {
		return fileName, store.EmotionNeutral
	}
	emo := store.Emotion(analysis.Emotion)
	if !store.ValidEmotions[emo] {
		emo = store.EmotionNeutral
	}
	if analysis.Description == "" {
		analysis.Description = fileName
	}
	return analysis.Description, emo
}

func (s *System) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

// PickEmoji decides, per cfg.SendProbability, whether to attach an emoji to
// replyText, classifying via the keyword quick table then LLM fallback, and
// weighted-picking among the matched emotion's registered stickers.
func (s *System) PickEmoji(ctx context.Context, replyText string) (*store.Emoji, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	if rand.Float64() >= s.cfg.SendProbability {
		return nil, nil
	}

	emotion := classifyKeywords(replyText)
	if emotion == "" {
		emotion = s.classifyLLM(ctx, replyText)
	}

	candidates, err := s.st.GetByEmotion(emotion, 5)
	if err != nil {
		return nil, fmt.Errorf("emoji: get by emotion: %w", err)
	}
	if len(candidates) == 0 {
		candidates, err = s.st.GetByEmotion(store.EmotionNeutral, 3)
		if err != nil {
			return nil, fmt.Errorf("emoji: get neutral fallback: %w", err)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	chosen := weightedPick(candidates)
	if err := s.st.IncrementUsage(chosen.ID); err != nil {
		log.Printf("[WARN] emoji: increment usage: %v", err)
	}
	return &chosen, nil
}

func classifyKeywords(text string) store.Emotion {
	lower := strings.ToLower(text)
	for _, group := range keywordCues {
		for _, cue := range group.cues {
			cue = strings.ToLower(cue)
			// Cues spelled only in ASCII letters match whole words; others match as substrings.
			if strings.Trim(cue, "abcdefghijklmnopqrstuvwxyz") != "" {
				if strings.Contains(lower, cue) {
					return group.emotion
				}
				continue
			}
			for _, word := range strings.FieldsFunc(lower, func(r rune) bool { return r < 'a' || r > 'z' }) {
				if word == cue {
					return group.emotion
				}
			}
		}
	}
	return ""
}

func (s *System) classifyLLM(ctx context.Context, text string) store.Emotion {
	prompt := "Classify the dominant emotion of this message as exactly one word from: happy, sad, angry, " +
		"surprised, disgusted, scared, neutral, funny, cute, confused, excited, tired, love.\n\nMessage: " + text
	resp, err := s.client.GenerateText(ctx, llm.TextRequest{Prompt: prompt, Model: s.cfg.Model, Temperature: 0.1, MaxTokens: 10})
	if err != nil {
		log.Printf("[WARN] emoji: classify: %v", err)
		return store.EmotionNeutral
	}
	emo := store.Emotion(strings.ToLower(strings.TrimSpace(resp)))
	if !store.ValidEmotions[emo] {
		return store.EmotionNeutral
	}
	return emo
}

// weightedPick samples proportional to weight_i = max_usage + 1 - usage_i + 1,
// so the least-used emojis in the candidate set are favored.
func weightedPick(candidates []store.Emoji) store.Emoji {
	maxUsage := 0
	for _, c := range candidates {
		if c.UsageCount > maxUsage {
			maxUsage = c.UsageCount
		}
	}
	weights := make([]int, len(candidates))
	total := 0
	for i, c := range candidates {
		w := maxUsage + 1 - c.UsageCount + 1
		weights[i] = w
		total += w
	}
	r := rand.Intn(total)
	for i, w := range weights {
		if r < w {
			return candidates[i]
		}
		r -= w
	}
	return candidates[len(candidates)-1]
}

func extFromContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func contentTypeFromExt(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
