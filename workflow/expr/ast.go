package expr

// Node is a parsed expression tree node. The set of implementations is closed;
// the validator rejects anything it does not recognise.
type Node interface {
	Pos() int
}

type (
	// Literal is an int64, float64, string, bool or nil constant.
	Literal struct {
		At    int
		Value any
	}

	// List is a list display: [a, b, c].
	List struct {
		At    int
		Items []Node
	}

	// Ident references a variable from the merged scope.
	Ident struct {
		At   int
		Name string
	}

	// Attr is field access: x.name.
	Attr struct {
		At   int
		X    Node
		Name string
	}

	// Index is subscript access: x[i].
	Index struct {
		At    int
		X     Node
		Index Node
	}

	// Unary is -x, +x or !x / not x.
	Unary struct {
		At int
		Op string
		X  Node
	}

	// Binary is arithmetic: + - * / %.
	Binary struct {
		At    int
		Op    string
		Left  Node
		Right Node
	}

	// Logical is short-circuit && / ||.
	Logical struct {
		At    int
		Op    string
		Left  Node
		Right Node
	}

	// Compare is a comparison chain: a < b <= c evaluates pairwise.
	Compare struct {
		At       int
		Ops      []string
		Operands []Node
	}

	// Call invokes a function by expression.
	Call struct {
		At   int
		Fn   Node
		Args []Node
	}

	// Spread is a variadic argument (*x, **x or ...x). It is never executable.
	Spread struct {
		At int
		X  Node
	}
)

func (n *Literal) Pos() int { return n.At }
func (n *List) Pos() int    { return n.At }
func (n *Ident) Pos() int   { return n.At }
func (n *Attr) Pos() int    { return n.At }
func (n *Index) Pos() int   { return n.At }
func (n *Unary) Pos() int   { return n.At }
func (n *Binary) Pos() int  { return n.At }
func (n *Logical) Pos() int { return n.At }
func (n *Compare) Pos() int { return n.At }
func (n *Call) Pos() int    { return n.At }
func (n *Spread) Pos() int  { return n.At }

// children returns the direct sub-nodes of n.
func children(n Node) []Node {
	switch n := n.(type) {
	case *List:
		return n.Items
	case *Attr:
		return []Node{n.X}
	case *Index:
		return []Node{n.X, n.Index}
	case *Unary:
		return []Node{n.X}
	case *Binary:
		return []Node{n.Left, n.Right}
	case *Logical:
		return []Node{n.Left, n.Right}
	case *Compare:
		return n.Operands
	case *Call:
		return append([]Node{n.Fn}, n.Args...)
	case *Spread:
		return []Node{n.X}
	default:
		return nil
	}
}
