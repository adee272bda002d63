package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/internal/agent"
	"github.com/xkilldash9x/scalpel-cua/internal/browser"
	"github.com/xkilldash9x/scalpel-cua/internal/config"
	"github.com/xkilldash9x/scalpel-cua/internal/llmclient"
	"github.com/xkilldash9x/scalpel-cua/internal/redact"
	"github.com/xkilldash9x/scalpel-cua/internal/redact/ocr"
	"github.com/xkilldash9x/scalpel-cua/internal/session"
	"github.com/xkilldash9x/scalpel-cua/internal/store"
)

// Function variables allow tests to swap out the browser and OCR engine.
var (
	newDriver = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error) {
		d, err := browser.NewChromeDriver(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	newTextDetector = func(lang string) (redact.TextDetector, func() error, error) {
		t, err := ocr.NewTesseract(lang)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	}
)

// agentStack is everything one interactive session needs.
type agentStack struct {
	coordinator *agent.Coordinator
	runner      *session.Runner
	closers     []func()
}

func (s *agentStack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildAgent wires gateway, browser, redactor, coordinator, store and
// session runner from cfg. The caller must Close the stack.
func buildAgent(ctx context.Context, cfg config.Interface, logger *zap.Logger, ack agent.Acknowledger, observer agent.Observer) (_ *agentStack, err error) {
	llmCfg := cfg.LLM()
	if llmCfg.APIKey == "" {
		return nil, errors.New("llm.api_key is not set (export SCALPEL_LLM_API_KEY or OPENAI_API_KEY)")
	}

	stack := &agentStack{}
	defer func() {
		if err != nil {
			stack.Close()
		}
	}()

	gateway, err := llmclient.NewResponsesClient(llmCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model gateway: %w", err)
	}

	st, closeStore, err := store.Open(ctx, cfg.Store(), cfg.Database(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	stack.closers = append(stack.closers, closeStore)

	var detector redact.TextDetector
	if cfg.Redact().OCR {
		d, closeOCR, err := newTextDetector(cfg.Redact().TesseractLang)
		if err != nil {
			return nil, fmt.Errorf("failed to start OCR engine (set redact.ocr=false to run without it): %w", err)
		}
		detector = d
		stack.closers = append(stack.closers, func() {
			if err := closeOCR(); err != nil {
				logger.Warn("Failed to close OCR engine.", zap.Error(err))
			}
		})
	}
	redactor := redact.New(detector, logger)

	driver, err := newDriver(ctx, cfg.Browser(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	stack.closers = append(stack.closers, func() {
		if err := driver.Close(); err != nil {
			logger.Warn("Failed to close browser.", zap.Error(err))
		}
	})
	width, height := cfg.Browser().ViewportSize()
	computer := browser.NewComputer(driver, logger, browser.WithDisplaySize(width, height))

	agentCfg := cfg.Agent()
	opts := []agent.Option{
		agent.WithModel(llmCfg.Model),
		agent.WithMaxRounds(agentCfg.MaxRounds),
		agent.WithObserver(observer),
	}
	if agentCfg.AutoAck {
		opts = append(opts, agent.WithAcknowledger(session.AutoAcknowledge(logger)))
	} else if ack != nil {
		opts = append(opts, agent.WithAcknowledger(ack))
	}
	if agentCfg.FrameDir != "" {
		sink, err := agent.NewDirFrameSink(agentCfg.FrameDir)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare frame directory: %w", err)
		}
		opts = append(opts, agent.WithFrameSink(sink))
	}

	stack.coordinator = agent.NewCoordinator(gateway, computer, redactor, logger, opts...)
	stack.runner = session.NewRunner(stack.coordinator, st, logger,
		session.WithAutoReply(agentCfg.AutoReply),
		session.WithTurnTimeout(agentCfg.TurnTimeout),
	)
	return stack, nil
}
