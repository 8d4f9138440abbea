package shop

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPaymentPattern matches notifications such as
// "» You have received 1.250 Gold from VIP ● Alice.".
const DefaultPaymentPattern = `(?i)» You have received (?P<amount>[\d.,]+) Gold from \S+ ● (?P<sender>\S+?)\.?$`

var ErrMalformedPayment = errors.New("malformed payment notification")

// Payment is a parsed currency transfer to the avatar.
type Payment struct {
	Sender string
	Amount int
}

// PaymentParser recognises payment notifications in raw chat text. It
// returns ok=false for unrelated text and an error for text that looks like
// a payment but cannot be read.
type PaymentParser interface {
	Parse(text string) (p Payment, ok bool, err error)
}

// PaymentConfig is the notification schema: a regular expression with named
// groups "amount" and "sender", plus the number separators it uses.
type PaymentConfig struct {
	Pattern      string `mapstructure:"pattern" yaml:"pattern" json:"pattern"`
	ThousandsSep string `mapstructure:"thousands_sep" yaml:"thousands_sep" json:"thousands_sep"`
	DecimalSep   string `mapstructure:"decimal_sep" yaml:"decimal_sep" json:"decimal_sep"`
}

// DefaultPaymentConfig returns the schema for "1.234,5"-style amounts.
func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		Pattern:      DefaultPaymentPattern,
		ThousandsSep: ".",
		DecimalSep:   ",",
	}
}

// PatternParser is the regex-driven PaymentParser.
type PatternParser struct {
	re        *regexp.Regexp
	amount    int
	sender    int
	thousands string
	decimal   string
}

var _ PaymentParser = (*PatternParser)(nil)

// NewPatternParser compiles cfg. Empty fields take their defaults.
func NewPatternParser(cfg PaymentConfig) (*PatternParser, error) {
	def := DefaultPaymentConfig()
	if cfg.Pattern == "" {
		cfg.Pattern = def.Pattern
	}
	if cfg.ThousandsSep == "" && cfg.DecimalSep == "" {
		cfg.ThousandsSep, cfg.DecimalSep = def.ThousandsSep, def.DecimalSep
	}
	if cfg.ThousandsSep != "" && cfg.ThousandsSep == cfg.DecimalSep {
		return nil, fmt.Errorf("thousands and decimal separators must differ, both are %q", cfg.DecimalSep)
	}

	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling payment pattern: %w", err)
	}

	p := &PatternParser{
		re:        re,
		amount:    re.SubexpIndex("amount"),
		sender:    re.SubexpIndex("sender"),
		thousands: cfg.ThousandsSep,
		decimal:   cfg.DecimalSep,
	}
	if p.amount < 0 || p.sender < 0 {
		return nil, fmt.Errorf("payment pattern needs named groups \"amount\" and \"sender\": %s", cfg.Pattern)
	}
	return p, nil
}

// Parse implements PaymentParser. Fractional amounts are truncated.
func (p *PatternParser) Parse(text string) (Payment, bool, error) {
	m := p.re.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Payment{}, false, nil
	}

	sender := strings.TrimSpace(m[p.sender])
	raw := m[p.amount]
	if sender == "" {
		return Payment{}, false, fmt.Errorf("%w: empty sender in %q", ErrMalformedPayment, text)
	}

	amount, err := p.parseAmount(raw)
	if err != nil {
		return Payment{}, false, fmt.Errorf("%w: amount %q: %w", ErrMalformedPayment, raw, err)
	}
	return Payment{Sender: sender, Amount: amount}, true, nil
}

func (p *PatternParser) parseAmount(raw string) (int, error) {
	s := raw
	if p.thousands != "" {
		s = strings.ReplaceAll(s, p.thousands, "")
	}
	if p.decimal != "" && p.decimal != "." {
		if strings.Count(s, p.decimal) > 1 {
			return 0, fmt.Errorf("more than one decimal separator")
		}
		s = strings.Replace(s, p.decimal, ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > math.MaxInt32 {
		return 0, fmt.Errorf("out of range")
	}
	return int(f), nil
}
