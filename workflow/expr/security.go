package expr

import (
	"regexp"
	"strings"

	"github.com/BaSui01/flowcore/types"
)

// deniedWords are rejected on sight, before parsing. The allow-list walk in
// validate is the real boundary; this only short-circuits obvious probes.
var deniedWords = regexp.MustCompile(`\b(` + strings.Join([]string{
	"import", "exec", "eval", "open", "compile",
	"globals", "locals",
	"getattr", "setattr", "delattr", "hasattr",
	"__import__", "breakpoint", "lambda",
}, "|") + `)\b`)

// precheck rejects denylisted keywords and dunder tokens anywhere in the source.
func precheck(src string) error {
	if strings.Contains(src, "__") {
		return types.NewError(types.ErrSecurityViolation, "double-underscore names are not allowed")
	}
	if m := deniedWords.FindString(src); m != "" {
		return types.Errorf(types.ErrSecurityViolation, "forbidden keyword %q", m)
	}
	return nil
}

// allowedBinaryOps lists arithmetic operators that may appear in an expression.
var allowedBinaryOps = map[string]bool{"+": true, "-": true, "*": true, "/": true, "%": true}

// validate walks the tree and fails closed on anything outside the allow-list.
// It reports how many calls the tree contains so basic-mode callers can reject them.
func validate(root Node) (calls int, err error) {
	var walk func(Node) error
	walk = func(n Node) error {
		switch n := n.(type) {
		case *Literal, *Ident, *List, *Index, *Logical, *Compare:
		case *Unary:
			if n.Op != "-" && n.Op != "+" && n.Op != "!" {
				return types.Errorf(types.ErrSecurityViolation, "operator %q is not allowed", n.Op)
			}
		case *Binary:
			if !allowedBinaryOps[n.Op] {
				return types.Errorf(types.ErrSecurityViolation, "operator %q is not allowed", n.Op)
			}
		case *Attr:
			if strings.HasPrefix(n.Name, "_") {
				return types.Errorf(types.ErrSecurityViolation, "access to private attribute %q is not allowed", n.Name)
			}
		case *Call:
			ident, ok := n.Fn.(*Ident)
			if !ok {
				return types.NewError(types.ErrSecurityViolation, "only direct calls to allowed functions are permitted")
			}
			if _, ok := builtins[ident.Name]; !ok {
				return types.Errorf(types.ErrSecurityViolation, "call to %q is not allowed", ident.Name)
			}
			calls++
			// 函数名本身无需再作为变量校验
			for _, arg := range n.Args {
				if err := walk(arg); err != nil {
					return err
				}
			}
			return nil
		case *Spread:
			return types.NewError(types.ErrSecurityViolation, "variadic arguments are not allowed")
		default:
			return types.Errorf(types.ErrSecurityViolation, "expression node %T is not allowed", n)
		}
		for _, c := range children(n) {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	err = walk(root)
	return calls, err
}
