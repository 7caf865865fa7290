// Command groupmind is the conversation engine's entrypoint: it wires the
// store, rate limiter, config layer, every humanizer submodule, the chat
// engine, and the dispatcher together, then serves inbound OneBot events
// until told to stop.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/groupmind/groupmind/internal/botgateway"
	"github.com/groupmind/groupmind/internal/chatengine"
	"github.com/groupmind/groupmind/internal/dispatcher"
	"github.com/groupmind/groupmind/internal/humanizer/emoji"
	"github.com/groupmind/groupmind/internal/humanizer/expression"
	"github.com/groupmind/groupmind/internal/humanizer/frequency"
	"github.com/groupmind/groupmind/internal/humanizer/memory"
	"github.com/groupmind/groupmind/internal/humanizer/planner"
	"github.com/groupmind/groupmind/internal/humanizer/topic"
	"github.com/groupmind/groupmind/internal/ingress"
	"github.com/groupmind/groupmind/internal/listener"
	"github.com/groupmind/groupmind/internal/ratelimit"
	"github.com/groupmind/groupmind/internal/session"
	"github.com/groupmind/groupmind/internal/skills"
	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/pkg/config"
	"github.com/groupmind/groupmind/pkg/kv"
	"github.com/groupmind/groupmind/pkg/llm"
	"github.com/groupmind/groupmind/pkg/llm/factory"
)

// base.yaml (under the resolved config directory) is an optional
// operator-edited starting point for Config; env.config and real
// environment variables both override it, applied in that order below.

func main() {
	cwd, _ := os.Getwd()
	if cwd == "" {
		cwd = "."
	}
	configDir := filepath.Join(cwd, "config")
	dataDir := filepath.Join(cwd, "data")
	_ = os.MkdirAll(configDir, 0o755)
	_ = os.MkdirAll(dataDir, 0o755)

	env := readEnvConfig(filepath.Join(configDir, "env.config"))

	st, err := store.New(store.DefaultConfig(filepath.Join(dataDir, "groupmind.db")))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	badger, err := kv.Open(kv.DefaultOptions(filepath.Join(dataDir, "kv")))
	if err != nil {
		log.Fatalf("open kv: %v", err)
	}
	defer badger.Close()

	base, err := config.LoadBaseFile(filepath.Join(configDir, "base.yaml"), config.Default())
	if err != nil {
		log.Fatalf("load base config: %v", err)
	}
	base.APIURL = getenv(env, "GROUPMIND_API_URL", base.APIURL)
	base.APIKey = getenv(env, "GROUPMIND_API_KEY", base.APIKey)
	base.Model = getenv(env, "GROUPMIND_MODEL", base.Model)
	base.BotUID = getenv(env, "GROUPMIND_BOT_UID", base.BotUID)
	if owners := getenv(env, "GROUPMIND_BOT_OWNER_IDS", ""); owners != "" {
		base.BotOwnerIDs = splitCSV(owners)
	}
	if nicks := getenv(env, "GROUPMIND_NICKNAMES", ""); nicks != "" {
		base.Nicknames = splitCSV(nicks)
	}
	base.Persona = getenv(env, "GROUPMIND_PERSONA", base.Persona)
	if v := getenv(env, "GROUPMIND_MULTIMODAL", ""); v != "" {
		base.IsMultimodal = v == "1"
	}
	if v := getenv(env, "GROUPMIND_ENABLE_GROUP_ADMIN", ""); v != "" {
		base.EnableGroupAdmin = v == "1"
	}
	if v := getenv(env, "GROUPMIND_ENABLE_EXTERNAL_SKILLS", ""); v != "" {
		base.EnableExternalSkills = v == "1"
	}

	cfgStore, err := config.New(badger, base)
	if err != nil {
		log.Fatalf("open config store: %v", err)
	}

	llmClient, err := factory.NewClient(llm.Config{
		Type:    llm.ProviderType(getenv(env, "GROUPMIND_LLM_PROVIDER", string(llm.ProviderOpenAI))),
		APIKey:  base.APIKey,
		BaseURL: base.APIURL,
		Model:   base.EffectiveModel(),
	})
	if err != nil {
		log.Fatalf("build llm client: %v", err)
	}

	sessions := session.New(st, base.MaxSessions)

	skillRegistry := skills.New()
	stopSkillSweep := skillRegistry.StartSweeper()
	defer stopSkillSweep()

	limiter := ratelimit.New(badger, ratelimit.DefaultConfig())
	limiter.Start()
	defer limiter.Stop()

	memoryRetriever := memory.New(st, llmClient, base.ToMemoryConfig())
	topicTracker := topic.New(st, llmClient, base.ToTopicConfig())
	expressionLearner := expression.New(st, llmClient, base.ToExpressionConfig())
	actionPlanner := planner.New(llmClient, base.ToPlannerConfig())
	freqController := frequency.New(base.ToFrequencyConfig())

	emojiSystem := emoji.New(st, llmClient, base.ToEmojiConfig())
	scanCtx, scanCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := emojiSystem.ScanDirectory(scanCtx); err != nil {
		log.Printf("[WARN] emoji directory scan: %v", err)
	}
	scanCancel()

	engine := chatengine.New(llmClient, st, emojiSystem, chatengine.Config{
		MaxIterations: base.MaxIterations,
		Model:         base.EffectiveModel(),
		Temperature:   base.Temperature,
	})

	gateway := botgateway.NewOneBotClient(
		getenv(env, "GROUPMIND_ONEBOT_HTTP_URL", "http://127.0.0.1:5700"),
		getenv(env, "GROUPMIND_ONEBOT_ACCESS_TOKEN", ""),
	)

	listeners := listener.New()

	disp := dispatcher.New(dispatcher.Deps{
		ConfigStore:     cfgStore,
		Store:           st,
		Sessions:        sessions,
		Gateway:         gateway,
		Limiter:         limiter,
		Skills:          skillRegistry,
		MemoryRetriever: memoryRetriever,
		TopicTracker:    topicTracker,
		Expression:      expressionLearner,
		Emoji:           emojiSystem,
		Planner:         actionPlanner,
		Frequency:       freqController,
		Engine:          engine,
		Listeners:       listeners,
	})

	ingressCfg := ingress.DefaultConfig()
	ingressCfg.Addr = getenv(env, "GROUPMIND_INGRESS_ADDR", ingressCfg.Addr)
	ingressCfg.AccessToken = getenv(env, "GROUPMIND_INGRESS_ACCESS_TOKEN", "")
	if mb := getenv(env, "GROUPMIND_INGRESS_MAX_BODY_MB", ""); mb != "" {
		if n, err := strconv.ParseInt(mb, 10, 64); err == nil && n > 0 {
			ingressCfg.MaxBodyMB = n
		}
	}

	srv := ingress.New(ingressCfg, disp)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("ingress server: %v", err)
		}
	}()

	log.Printf("groupmind listening on %s", ingressCfg.Addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("groupmind shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("[WARN] ingress shutdown: %v", err)
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := trim(s[start:i]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func trim(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
