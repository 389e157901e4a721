package agent

import "github.com/0x7f/microclaw/internal/providers"

// ImagePayload is the optional inbound image attached to a run request (§4.G step 2).
type ImagePayload struct {
	Base64Data string
	MediaType  string
}

// appendImageToLastUserMessage rewrites the last user message of trace into Blocks
// form carrying the image plus its prior text, per §4.G step 2. If trace has no
// trailing user message, one is appended holding only the image.
func appendImageToLastUserMessage(trace []providers.Message, img ImagePayload) []providers.Message {
	block := providers.ImageBlock(img.MediaType, img.Base64Data)

	if len(trace) == 0 || trace[len(trace)-1].Role != "user" {
		return append(trace, providers.UserBlocks(block))
	}

	last := trace[len(trace)-1]
	var blocks []providers.ContentBlock
	if last.HasBlocks() {
		blocks = append(blocks, last.Blocks...)
	} else if last.Text != "" {
		blocks = append(blocks, providers.TextBlock(last.Text))
	}
	blocks = append(blocks, block)

	trace[len(trace)-1] = providers.Message{Role: "user", Blocks: blocks}
	return trace
}

// stripImagesForPersistence replaces every Image block with a placeholder Text
// block before a trace is saved to the session store (§4.G, "Image stripping").
func stripImagesForPersistence(trace []providers.Message) []providers.Message {
	out := make([]providers.Message, len(trace))
	for i, m := range trace {
		if !m.HasBlocks() {
			out[i] = m
			continue
		}
		blocks := make([]providers.ContentBlock, len(m.Blocks))
		for j, b := range m.Blocks {
			if b.Type == providers.BlockImage {
				blocks[j] = providers.TextBlock("[image was sent]")
				continue
			}
			blocks[j] = b
		}
		m.Blocks = blocks
		out[i] = m
	}
	return out
}
