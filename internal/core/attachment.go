package core

import (
	"context"
	"strings"
)

// Extensions whose content can be handed to the keyword matcher after text
// extraction.
var (
	supportedTextTypes   = []string{"txt", "csv", "json", "xml", "html"}
	supportedOfficeTypes = []string{"doc", "docx", "xls", "xlsx", "ppt", "pptx"}
	supportedPdfTypes    = []string{"pdf"}
)

// Location-specific confidences for attachment keyword matches.
const (
	filenameMatchConfidence = 0.9
	contentMatchConfidence  = 0.8
)

// ScanEmailAttachments applies the scan rules to every attachment and
// returns one result per attachment that produced at least one match. An
// extraction failure on one attachment only skips that attachment's
// content scan; the remaining attachments are still scanned.
func ScanEmailAttachments(ctx context.Context, attachments []AttachmentInfo, rules []AttachmentScanRule, extract TextExtractor) []ScanResult {
	var results []ScanResult
	for _, att := range attachments {
		if result := ScanAttachment(ctx, att, rules, extract); result != nil {
			results = append(results, *result)
		}
	}
	return results
}

// ScanAttachment evaluates the scan rules against one attachment's
// filename and (when supported and enabled) extracted content. It returns
// nil when no rule produced a match.
func ScanAttachment(ctx context.Context, att AttachmentInfo, rules []AttachmentScanRule, extract TextExtractor) *ScanResult {
	fileType := fileTypeOf(att.Name)
	fileSizeMB := float64(att.Size) / (1024 * 1024)

	result := &ScanResult{
		FileID:   att.ID,
		FileName: att.Name,
		FileType: fileType,
		FileSize: att.Size,
	}

	for _, rule := range rules {
		if len(rule.FileTypes) > 0 && !containsString(rule.FileTypes, fileType) {
			continue
		}
		if fileSizeMB > rule.MaxFileSize {
			continue
		}

		if rule.ScanFilename {
			if matched := MatchKeywordRules(att.Name, rule.KeywordRules); len(matched) > 0 {
				result.Matches = append(result.Matches, ScanMatch{
					RuleName:        rule.Name,
					MatchedKeywords: matched,
					Location:        "filename",
					Confidence:      filenameMatchConfidence,
				})
			}
		}

		if rule.ScanContent && canExtractText(fileType) && extract != nil {
			content, ok, err := extract(ctx, att)
			if err != nil || !ok {
				continue
			}
			result.ExtractedText = content
			if matched := MatchKeywordRules(content, rule.KeywordRules); len(matched) > 0 {
				result.Matches = append(result.Matches, ScanMatch{
					RuleName:        rule.Name,
					MatchedKeywords: matched,
					Location:        "content",
					Confidence:      contentMatchConfidence,
				})
			}
		}
	}

	if len(result.Matches) == 0 {
		return nil
	}

	result.RiskScore = attachmentRiskScore(result.Matches)
	return result
}

func canExtractText(fileType string) bool {
	return containsString(supportedTextTypes, fileType) ||
		containsString(supportedOfficeTypes, fileType) ||
		containsString(supportedPdfTypes, fileType)
}

func fileTypeOf(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return "unknown"
	}
	return strings.ToLower(fileName[idx+1:])
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
