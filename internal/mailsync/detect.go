package mailsync

import "strings"

// Receipt-likelihood heuristic. Scores 0-100 from subject, sender and body
// signals; items at or above the threshold get an extraction job, the rest
// are indexed but skipped.

var subjectKeywords = map[string]int{
	"receipt":            30,
	"invoice":            30,
	"order confirmation": 30,
	"payment received":   25,
	"payment confirmed":  25,
	"your order":         20,
	"purchase":           20,
	"transaction":        15,
	"billing":            15,
	"statement":          10,
}

var senderKeywords = map[string]int{
	"receipt":   25,
	"invoice":   25,
	"billing":   20,
	"payment":   20,
	"noreply":   10,
	"no-reply":  10,
	"order":     15,
	"store":     10,
	"checkout":  15,
	"bookings":  10,
	"paypal":    25,
	"stripe":    25,
	"square":    20,
	"grab":      20,
	"amazon":    20,
	"lazada":    20,
	"shopee":    20,
	"foodpanda": 20,
}

var bodyKeywords = map[string]int{
	"total":                       10,
	"subtotal":                    15,
	"amount paid":                 20,
	"amount due":                  15,
	"order total":                 20,
	"payment method":              15,
	"thank you for your purchase": 20,
	"thank you for your order":    20,
	"here is your receipt":        25,
}

var currencyMarkers = []string{"$", "€", "£", "¥", "₩", "฿", "usd", "eur", "gbp", "thb", "sgd", "jpy"}

// DetectionScore estimates how likely a message is a purchase receipt.
func DetectionScore(subject, sender, body string) int {
	subject = strings.ToLower(subject)
	sender = strings.ToLower(sender)
	body = strings.ToLower(body)

	score := 0
	for kw, pts := range subjectKeywords {
		if strings.Contains(subject, kw) {
			score += pts
		}
	}
	for kw, pts := range senderKeywords {
		if strings.Contains(sender, kw) {
			score += pts
		}
	}
	for kw, pts := range bodyKeywords {
		if strings.Contains(body, kw) {
			score += pts
		}
	}
	for _, marker := range currencyMarkers {
		if strings.Contains(body, marker) {
			score += 10
			break
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}
