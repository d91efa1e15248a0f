package core

import (
	"regexp"
	"sort"
	"strings"
)

// Candidate regexes for the structural phase of each detector. Confidence
// adjustment happens in a second phase using the surrounding context.
var (
	creditCardPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b4[0-9]{12}(?:[0-9]{3})?\b`), // Visa
		regexp.MustCompile(`\b5[1-5][0-9]{14}\b`),         // MasterCard
		regexp.MustCompile(`\b3[47][0-9]{13}\b`),          // American Express
		regexp.MustCompile(`\b6(?:011|5[0-9]{2})[0-9]{12}\b`), // Discover
	}

	ssnPattern = regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:\+1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`), // US
		regexp.MustCompile(`\+[1-9]\d{1,14}\b`), // international
	}

	routingPattern     = regexp.MustCompile(`\b[0-9]{9}\b`)
	bankAccountPattern = regexp.MustCompile(`\b[0-9]{8,17}\b`)

	passportPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z]{1,2}[0-9]{7}\b`),
		regexp.MustCompile(`\b[0-9]{9}\b`),
	}
)

// Context vocabularies that raise or lower candidate confidence.
var (
	creditCardContext  = regexp.MustCompile(`(?i)\b(card|credit|visa|mastercard|amex|discover|payment|charge)\b`)
	testNumberContext  = regexp.MustCompile(`(?i)\b(test|sample|example|demo|fake)\b`)
	ssnContext         = regexp.MustCompile(`(?i)\b(ssn|social.security|tax.id|tin)\b`)
	nonSSNContext      = regexp.MustCompile(`(?i)\b(phone|fax|date|time|order|invoice)\b`)
	phoneContext       = regexp.MustCompile(`(?i)\b(phone|tel|call|mobile|cell|contact)\b`)
	nonPhoneContext    = regexp.MustCompile(`(?i)\b(account|id|number|reference|order)\b`)
	bankContext        = regexp.MustCompile(`(?i)\b(bank|routing|account|deposit|withdraw|transfer|ach)\b`)
	passportContext    = regexp.MustCompile(`(?i)\b(passport|travel|document|id|identification)\b`)
)

// DetectPatterns runs all enabled sensitive-data detectors over the text
// and returns the deduplicated matches sorted by offset.
func DetectPatterns(text string, enabled PatternToggles) []PatternMatch {
	var all []PatternMatch

	if enabled.CreditCards {
		all = append(all, detectCreditCards(text)...)
	}
	if enabled.SSN {
		all = append(all, detectSSNs(text)...)
	}
	if enabled.PhoneNumbers {
		all = append(all, detectPhoneNumbers(text)...)
	}
	if enabled.BankAccounts {
		all = append(all, detectBankAccounts(text)...)
	}
	if enabled.Passports {
		all = append(all, detectPassports(text)...)
	}

	return deduplicateMatches(all)
}

// AllPatternToggles enables every detector.
func AllPatternToggles() PatternToggles {
	return PatternToggles{
		CreditCards:  true,
		SSN:          true,
		PhoneNumbers: true,
		BankAccounts: true,
		Passports:    true,
	}
}

func detectCreditCards(text string) []PatternMatch {
	var matches []PatternMatch

	for _, pattern := range creditCardPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			number := strings.Join(strings.Fields(text[loc[0]:loc[1]]), "")

			// Luhn is a hard filter: candidates that fail are discarded
			// outright, not down-weighted.
			if !luhnValid(number) {
				continue
			}

			context := surroundingContext(text, loc[0], 20)
			confidence := creditCardConfidence(context)
			if confidence > 0.7 {
				matches = append(matches, PatternMatch{
					Type:       PatternCreditCard,
					Value:      number,
					Confidence: confidence,
					Position:   loc[0],
					Context:    context,
				})
			}
		}
	}

	return matches
}

func detectSSNs(text string) []PatternMatch {
	var matches []PatternMatch

	for _, loc := range ssnPattern.FindAllStringIndex(text, -1) {
		ssn := stripSeparators(text[loc[0]:loc[1]])

		// Structurally invalid area, group, or serial numbers are not SSNs.
		if !validSSNStructure(ssn) {
			continue
		}

		context := surroundingContext(text, loc[0], 15)
		confidence := ssnConfidence(ssn, context)
		if confidence > 0.8 {
			matches = append(matches, PatternMatch{
				Type:       PatternSSN,
				Value:      ssn,
				Confidence: confidence,
				Position:   loc[0],
				Context:    context,
			})
		}
	}

	return matches
}

func detectPhoneNumbers(text string) []PatternMatch {
	var matches []PatternMatch

	for _, pattern := range phonePatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			phone := text[loc[0]:loc[1]]
			context := surroundingContext(text, loc[0], 15)
			confidence := phoneConfidence(context)
			if confidence > 0.6 {
				matches = append(matches, PatternMatch{
					Type:       PatternPhone,
					Value:      phone,
					Confidence: confidence,
					Position:   loc[0],
					Context:    context,
				})
			}
		}
	}

	return matches
}

// detectBankAccounts pairs each 9-digit routing-number candidate with a
// distinct 8-17 digit account-number candidate within 100 characters on
// either side. The reported value is "routing/account".
func detectBankAccounts(text string) []PatternMatch {
	var matches []PatternMatch

	for _, loc := range routingPattern.FindAllStringIndex(text, -1) {
		routing := text[loc[0]:loc[1]]
		context := surroundingContext(text, loc[0], 50)

		start := loc[0] - 100
		if start < 0 {
			start = 0
		}
		end := loc[0] + 100
		if end > len(text) {
			end = len(text)
		}
		nearby := text[start:end]

		for _, accLoc := range bankAccountPattern.FindAllStringIndex(nearby, -1) {
			account := nearby[accLoc[0]:accLoc[1]]
			if account == routing {
				continue
			}

			confidence := bankAccountConfidence(routing, context)
			if confidence > 0.7 {
				matches = append(matches, PatternMatch{
					Type:       PatternBankAccount,
					Value:      routing + "/" + account,
					Confidence: confidence,
					Position:   loc[0],
					Context:    context,
				})
			}
		}
	}

	return matches
}

func detectPassports(text string) []PatternMatch {
	var matches []PatternMatch

	for _, pattern := range passportPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			passport := text[loc[0]:loc[1]]
			context := surroundingContext(text, loc[0], 20)
			confidence := passportConfidence(context)
			if confidence > 0.8 {
				matches = append(matches, PatternMatch{
					Type:       PatternPassport,
					Value:      passport,
					Confidence: confidence,
					Position:   loc[0],
					Context:    context,
				})
			}
		}
	}

	return matches
}

// luhnValid reports whether the digit string passes the mod-10 checksum:
// double every second digit from the right, subtract 9 when the doubled
// digit exceeds 9, and require the total to be divisible by 10.
func luhnValid(number string) bool {
	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		digit := int(c - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

func validSSNStructure(ssn string) bool {
	if len(ssn) != 9 {
		return false
	}
	area, group, serial := ssn[:3], ssn[3:5], ssn[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

func creditCardConfidence(context string) float64 {
	confidence := 0.8 // base for a Luhn-valid candidate

	if creditCardContext.MatchString(context) {
		confidence += 0.15
	}
	if testNumberContext.MatchString(context) {
		confidence -= 0.3
	}

	return clamp01(confidence)
}

func ssnConfidence(ssn, context string) float64 {
	confidence := 0.7

	if ssnContext.MatchString(context) {
		confidence += 0.2
	}
	if nonSSNContext.MatchString(context) {
		confidence -= 0.3
	}
	if strings.HasPrefix(ssn, "000") || strings.HasPrefix(ssn, "666") || strings.HasPrefix(ssn, "9") {
		confidence -= 0.5
	}

	return clamp01(confidence)
}

func phoneConfidence(context string) float64 {
	confidence := 0.6

	if phoneContext.MatchString(context) {
		confidence += 0.2
	}
	if nonPhoneContext.MatchString(context) {
		confidence -= 0.2
	}

	return clamp01(confidence)
}

func bankAccountConfidence(routing, context string) float64 {
	confidence := 0.6

	if bankContext.MatchString(context) {
		confidence += 0.25
	}
	// Valid ABA routing numbers start with 0-3.
	if routing[0] >= '0' && routing[0] <= '3' {
		confidence += 0.1
	}

	return clamp01(confidence)
}

func passportConfidence(context string) float64 {
	confidence := 0.5

	if passportContext.MatchString(context) {
		confidence += 0.4
	}

	return clamp01(confidence)
}

// deduplicateMatches sorts matches by offset and collapses any two whose
// offsets differ by less than 10 characters into the higher-confidence one.
func deduplicateMatches(matches []PatternMatch) []PatternMatch {
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Position < matches[j].Position
	})

	var deduplicated []PatternMatch
	for _, match := range matches {
		overlap := -1
		for i, existing := range deduplicated {
			if abs(existing.Position-match.Position) < 10 {
				overlap = i
				break
			}
		}
		if overlap < 0 {
			deduplicated = append(deduplicated, match)
		} else if match.Confidence > deduplicated[overlap].Confidence {
			deduplicated[overlap] = match
		}
	}

	return deduplicated
}

func surroundingContext(text string, position, radius int) string {
	start := position - radius
	if start < 0 {
		start = 0
	}
	end := position + radius
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
