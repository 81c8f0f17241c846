package expr

import (
	"strings"
	"unicode"

	"github.com/BaSui01/flowcore/types"
)

type tokenKind int

const (
	tkEOF    tokenKind = iota
	tkInt              // 42
	tkFloat            // 0.8, 1e3
	tkString           // "hello" or 'hello'
	tkIdent            // variable, keyword or function name
	tkOp               // == != > < >= <= && || ! + - * / % ** ...
	tkLParen           // (
	tkRParen           // )
	tkLBrack           // [
	tkRBrack           // ]
	tkComma            // ,
	tkDot              // .
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

func (t token) is(kind tokenKind, value string) bool {
	return t.kind == kind && t.value == value
}

// keyword operators are lexed as identifiers and recognised by the parser.
var keywordOps = map[string]bool{"and": true, "or": true, "not": true, "in": true}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		switch ch {
		case '(':
			tokens = append(tokens, token{tkLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tkRParen, ")", i})
			i++
			continue
		case '[':
			tokens = append(tokens, token{tkLBrack, "[", i})
			i++
			continue
		case ']':
			tokens = append(tokens, token{tkRBrack, "]", i})
			i++
			continue
		case ',':
			tokens = append(tokens, token{tkComma, ",", i})
			i++
			continue
		case '"', '\'':
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s, i})
			i = n
			continue
		}

		if i+2 < len(runes) && string(runes[i:i+3]) == "..." {
			tokens = append(tokens, token{tkOp, "...", i})
			i += 3
			continue
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||", "**":
				tokens = append(tokens, token{tkOp, two, i})
				i += 2
				continue
			}
		}

		if ch == '.' && !(i+1 < len(runes) && isDigit(runes[i+1])) {
			tokens = append(tokens, token{tkDot, ".", i})
			i++
			continue
		}

		if strings.ContainsRune("><!+-*/%", ch) {
			tokens = append(tokens, token{tkOp, string(ch), i})
			i++
			continue
		}

		if isDigit(ch) || ch == '.' {
			lit, isFloat, n := readNumber(runes, i)
			kind := tkInt
			if isFloat {
				kind = tkFloat
			}
			tokens = append(tokens, token{kind, lit, i})
			i = n
			continue
		}

		if isIdentStart(ch) {
			ident, n := readIdent(runes, i)
			tokens = append(tokens, token{tkIdent, ident, i})
			i = n
			continue
		}

		return nil, types.Errorf(types.ErrEvaluation, "unexpected character %q at position %d", string(ch), i)
	}

	tokens = append(tokens, token{tkEOF, "", len(runes)})
	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		ch := runes[i]
		if ch == '\\' && i+1 < len(runes) {
			switch next := runes[i+1]; next {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				sb.WriteRune(next)
			}
			i += 2
			continue
		}
		if ch == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(ch)
		i++
	}
	return "", 0, types.Errorf(types.ErrEvaluation, "unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, bool, int) {
	i := start
	isFloat := false
	for i < len(runes) && (isDigit(runes[i]) || runes[i] == '_') {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		isFloat = true
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
		j := i + 1
		if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
			j++
		}
		if j < len(runes) && isDigit(runes[j]) {
			isFloat = true
			i = j
			for i < len(runes) && isDigit(runes[i]) {
				i++
			}
		}
	}
	return strings.ReplaceAll(string(runes[start:i]), "_", ""), isFloat, i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool  { return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' }
