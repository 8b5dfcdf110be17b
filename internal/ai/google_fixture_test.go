package ai

import "google.golang.org/genai"

func googleResponse() *genai.GenerateContentResponse {
	web := &genai.GroundingChunkWeb{Title: "Go", URI: "https://go.dev"}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "answer"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{0x89}}},
			}},
			GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{
				{Web: web},
				{Web: web},
				{},
			}},
		}},
	}
}
