// Package password enforces the account password policy and hashes passwords.
package password

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	dErrors "cmsguard/pkg/domain-errors"
)

// DefaultSpecials is the set of characters that satisfy the special rule.
const DefaultSpecials = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

// Rule names a single policy requirement.
type Rule string

const (
	RuleLength    Rule = "length"
	RuleUppercase Rule = "uppercase"
	RuleLowercase Rule = "lowercase"
	RuleDigit     Rule = "digit"
	RuleSpecial   Rule = "special"
)

// Violation is one failed rule with a message fit for the end user.
type Violation struct {
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

// PolicyViolationError lists every rule a password failed, in evaluation order.
type PolicyViolationError struct {
	Violations []Violation
}

func (e *PolicyViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "password policy violation: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the domain code so generic error mapping yields 422.
func (e *PolicyViolationError) Unwrap() error {
	return dErrors.New(dErrors.CodeValidation, e.Error())
}

// Has reports whether rule is among the violations.
func (e *PolicyViolationError) Has(rule Rule) bool {
	for _, v := range e.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// Checks is the per-rule outcome for a password.
type Checks struct {
	Length    bool `json:"length"`
	Uppercase bool `json:"uppercase"`
	Lowercase bool `json:"lowercase"`
	Digit     bool `json:"digit"`
	Special   bool `json:"special"`
}

// Satisfied counts the rules that passed.
func (c Checks) Satisfied() int {
	n := 0
	for _, ok := range []bool{c.Length, c.Uppercase, c.Lowercase, c.Digit, c.Special} {
		if ok {
			n++
		}
	}
	return n
}

type Policy struct {
	MinLength int
	Specials  string
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength: 12,
		Specials:  DefaultSpecials,
	}
}

// Check evaluates every rule and never fails.
func (p Policy) Check(pw string) Checks {
	c := Checks{Length: utf8.RuneCountInString(pw) >= p.MinLength}
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			c.Uppercase = true
		case unicode.IsLower(r):
			c.Lowercase = true
		case unicode.IsDigit(r):
			c.Digit = true
		}
		if strings.ContainsRune(p.Specials, r) {
			c.Special = true
		}
	}
	return c
}

// Validate returns *PolicyViolationError naming every failed rule, or nil.
func (p Policy) Validate(pw string) error {
	c := p.Check(pw)

	var violations []Violation
	if !c.Length {
		violations = append(violations, Violation{
			Rule:    RuleLength,
			Message: fmt.Sprintf("password must be at least %d characters long", p.MinLength),
		})
	}
	if !c.Uppercase {
		violations = append(violations, Violation{Rule: RuleUppercase, Message: "password must include an uppercase letter"})
	}
	if !c.Lowercase {
		violations = append(violations, Violation{Rule: RuleLowercase, Message: "password must include a lowercase letter"})
	}
	if !c.Digit {
		violations = append(violations, Violation{Rule: RuleDigit, Message: "password must include a digit"})
	}
	if !c.Special {
		violations = append(violations, Violation{Rule: RuleSpecial, Message: "password must include a special character"})
	}

	if len(violations) > 0 {
		return &PolicyViolationError{Violations: violations}
	}
	return nil
}

// Strength is the number of satisfied rules, 0 to 5.
func (p Policy) Strength(pw string) int {
	return p.Check(pw).Satisfied()
}

var strengthLabels = [...]string{
	0: "very weak",
	1: "very weak",
	2: "weak",
	3: "fair",
	4: "strong",
	5: "very strong",
}

func (p Policy) StrengthLabel(pw string) string {
	return strengthLabels[p.Strength(pw)]
}

// Entropy is the zxcvbn score from 0 to 4. userInputs (username, email) are
// penalised when they appear in pw. Advisory only; Validate ignores it.
func (p Policy) Entropy(pw string, userInputs ...string) int {
	if pw == "" {
		return 0
	}
	return zxcvbn.PasswordStrength(pw, userInputs).Score
}
