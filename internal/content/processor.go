// Package content implements spec §4.3's ContentBlockProcessor: per-block
// decoding/rendering on top of the security package's validators, with a
// strict or recovery batch strategy.
package content

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/security"
)

// BatchMode selects spec §4.3's two batch strategies.
type BatchMode int

const (
	BatchStrict BatchMode = iota
	BatchRecovery
)

const (
	recoveryInitialBackoff = time.Second
	recoveryMaxBackoff     = 10 * time.Second
	recoveryDefaultRetries = 3
)

// Processor is the ContentBlockProcessor.
type Processor struct {
	security *security.ContentSecurityValidator
	caps     core.PromptCapabilities
	retries  int
}

// New builds a Processor bound to the given security caps and negotiated
// prompt capabilities.
func New(secCaps core.SecurityCaps, promptCaps core.PromptCapabilities) *Processor {
	return &Processor{
		security: security.NewContentSecurityValidator(secCaps),
		caps:     promptCaps,
		retries:  recoveryDefaultRetries,
	}
}

// nonRetryable reports whether an error kind should never be retried
// under recovery mode (spec §4.3: missing field, unsupported type,
// invalid content structure, capability denied, MIME not allowed,
// invalid base64 are all immediate failures).
func nonRetryable(err error) bool {
	ce, ok := core.AsCoreError(err)
	if !ok {
		return false
	}
	return ce.Kind == core.KindValidation || ce.Kind == core.KindPolicy
}

// Process implements the single-block contract.
func (p *Processor) Process(block core.ContentBlock) (core.ProcessedContent, error) {
	if err := security.CapabilityGate([]core.ContentBlock{block}, p.caps); err != nil {
		return core.ProcessedContent{}, err
	}
	if err := p.security.ValidateContentBlock(block); err != nil {
		return core.ProcessedContent{}, err
	}
	return p.render(block)
}

func (p *Processor) render(block core.ContentBlock) (core.ProcessedContent, error) {
	switch block.Type {
	case core.ContentTypeText:
		return core.ProcessedContent{
			Type:     block.Type,
			Rendered: block.Text,
			DataSize: int64(len(block.Text)),
		}, nil
	case core.ContentTypeImage, core.ContentTypeAudio:
		decoded, err := security.Decode(block.Data)
		if err != nil {
			return core.ProcessedContent{}, core.ValidationErrorf("failed to decode content: %v", err)
		}
		return core.ProcessedContent{
			Type:       block.Type,
			Rendered:   fmt.Sprintf("[%s content, %d bytes, mime=%s]", block.Type, len(decoded), block.MimeType),
			BinaryData: decoded,
			MimeType:   block.MimeType,
			DataSize:   int64(len(decoded)),
		}, nil
	case core.ContentTypeResourceLink, core.ContentTypeEmbeddedResource:
		return core.ProcessedContent{
			Type:      block.Type,
			Rendered:  fmt.Sprintf("[resource %s]", block.URI),
			SourceURI: block.URI,
			DataSize:  int64(len(block.URI)),
		}, nil
	default:
		return core.ProcessedContent{}, core.ValidationErrorf("unsupported content block type %q", block.Type)
	}
}

// ProcessMany implements the batch contract. mode selects strict vs
// recovery semantics (spec §4.3).
func (p *Processor) ProcessMany(blocks []core.ContentBlock, mode BatchMode) (core.ProcessingSummary, error) {
	// Strict mode can afford the fast whole-array rejection: one bad
	// block means the caller gets nothing, and the batch capability
	// gate aggregates every violation into a single error. Recovery
	// mode must not let a single bad block abort the batch, so the
	// gate runs per block there (a denial is a non-retryable per-block
	// failure), and only the array-length cap holds upfront; the
	// total-size cap is re-derived from blocks it manages to estimate.
	if mode == BatchStrict {
		if err := security.CapabilityGate(blocks, p.caps); err != nil {
			return core.ProcessingSummary{}, err
		}
		if err := p.security.ValidateContentBlocks(blocks); err != nil {
			return core.ProcessingSummary{}, err
		}
	} else if err := p.security.ValidateArrayLength(blocks); err != nil {
		return core.ProcessingSummary{}, err
	}

	summary := core.ProcessingSummary{
		Results:       make([]core.ProcessedContent, len(blocks)),
		TypeHistogram: make(map[core.ContentBlockType]int),
	}

	var renderedParts []string
	var firstErr error
	var estimatedTotal int64

	for i, block := range blocks {
		if mode == BatchRecovery && (block.Type == core.ContentTypeImage || block.Type == core.ContentTypeAudio) {
			estimatedTotal += security.EstimatedDecodedSize(block.Data)
		}

		result, err := p.processWithMode(block, mode)
		if err != nil {
			if mode == BatchStrict {
				return core.ProcessingSummary{}, err
			}
			if firstErr == nil {
				firstErr = err
			}
			result = core.ProcessedContent{
				Type:             block.Type,
				ProcessingFailed: true,
				FailureReason:    err.Error(),
			}
		}
		summary.Results[i] = result
		summary.TypeHistogram[block.Type]++
		summary.TotalBytes += result.DataSize
		if len(result.BinaryData) > 0 {
			summary.HasBinary = true
		}
		if result.Rendered != "" {
			renderedParts = append(renderedParts, result.Rendered)
		}
	}

	if mode == BatchRecovery {
		if max := p.security.MaxTotalContentSize(); max > 0 && estimatedTotal > max {
			return core.ProcessingSummary{}, core.ValidationErrorf(
				"total estimated content size %d exceeds maximum of %d", estimatedTotal, max).
				WithData("providedSize", estimatedTotal).WithData("maxSize", max)
		}

		allFailed := true
		for _, r := range summary.Results {
			if !r.ProcessingFailed {
				allFailed = false
				break
			}
		}
		if allFailed && firstErr != nil {
			return core.ProcessingSummary{}, firstErr
		}
	}

	for i, part := range renderedParts {
		if i > 0 {
			summary.RenderedText += "\n"
		}
		summary.RenderedText += part
	}
	return summary, nil
}

func (p *Processor) processWithMode(block core.ContentBlock, mode BatchMode) (core.ProcessedContent, error) {
	if mode == BatchRecovery {
		if err := security.CapabilityGate([]core.ContentBlock{block}, p.caps); err != nil {
			return core.ProcessedContent{}, err
		}
	}
	if err := p.security.ValidateContentBlock(block); err != nil {
		return core.ProcessedContent{}, err
	}
	if mode == BatchStrict {
		return p.render(block)
	}

	var lastErr error
	backoff := recoveryInitialBackoff
	for attempt := 0; attempt <= p.retries; attempt++ {
		result, err := p.render(block)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if nonRetryable(err) {
			return core.ProcessedContent{}, err
		}
		if attempt == p.retries {
			break
		}
		time.Sleep(backoff)
		if backoff < recoveryMaxBackoff {
			backoff *= 2
			if backoff > recoveryMaxBackoff {
				backoff = recoveryMaxBackoff
			}
		}
	}
	return core.ProcessedContent{}, lastErr
}

// RenderToolUse renders a tool_use block as the single-line JSON the
// ProtocolTranslator emits in place of a native tool-use content block
// (spec §4.4).
func RenderToolUse(id, name string, input json.RawMessage) (string, error) {
	payload := map[string]any{"type": "tool_use", "id": id, "name": name, "input": input}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", core.InternalErrorf("failed to render tool_use block: %v", err)
	}
	return string(b), nil
}
