package parser

import (
	"strconv"
	"strings"

	"fbcqbe/compiler"
	"fbcqbe/compiler/ast"
	"fbcqbe/compiler/lexer"
)

// ============================================================================
// Parser - recursive descent over the token stream
// ============================================================================
//
// The dialect is line-oriented: a physical line optionally starts with a
// line number, then carries one or more statements separated by ':'.
// Multi-line constructs (IF blocks, loops, SELECT, TRY, SUB/FUNCTION)
// span lines and close with their matching keyword.

type Parser struct {
	tokens  []lexer.Token
	pos     int
	curLine int // BASIC line number currently in effect
	rep     *compiler.Reporter
}

// Parse tokenizes and parses a full source file.
func Parse(source, code string) (*ast.Program, compiler.Diagnostics) {
	tokens, lexDiags := lexer.Tokenize(code)
	p := &Parser{
		tokens: tokens,
		rep:    compiler.NewReporter(source, compiler.PipelineParser),
	}
	prog := &ast.Program{Source: source}
	prog.Statements = p.parseBlock(nil)
	if !p.at(lexer.TokenEOF) {
		p.errorf("unexpected %q", p.peek().Text)
	}
	return prog, append(lexDiags, p.rep.List()...)
}

// ============================================================================
// Token helpers
// ============================================================================

func (p *Parser) peek() lexer.Token {
	if p.pos >= len(p.tokens) {
		return lexer.Token{Id: lexer.TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(offset int) lexer.Token {
	if p.pos+offset >= len(p.tokens) {
		return lexer.Token{Id: lexer.TokenEOF}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) at(id lexer.TokenId) bool {
	return p.peek().Id == id
}

func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) accept(id lexer.TokenId) bool {
	if p.at(id) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(id lexer.TokenId, what string) lexer.Token {
	if p.at(id) {
		return p.advance()
	}
	p.errorf("expected %s, found %q", what, p.peek().Text)
	return p.peek()
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.rep.ErrorAtLine(p.curLine, p.peek().Location, format, args...)
}

// skipSeparators consumes EOLs and ':' between statements, picking up a
// line number wherever one starts a physical line.
func (p *Parser) skipSeparators() {
	for {
		if p.at(lexer.TokenNumber) && p.atLineStart() && !strings.Contains(p.peek().Text, ".") {
			if n, err := strconv.Atoi(p.peek().Text); err == nil {
				p.advance()
				p.curLine = n
				continue
			}
		}
		switch p.peek().Id {
		case lexer.TokenColon, lexer.TokenEOL:
			p.advance()
		default:
			return
		}
	}
}

func (p *Parser) atLineStart() bool {
	return p.pos == 0 || p.tokens[p.pos-1].Id == lexer.TokenEOL
}

func (p *Parser) base(s interface {
	SetLine(int)
	SetLocation(compiler.Location)
}) {
	s.SetLine(p.curLine)
	s.SetLocation(p.peek().Location)
}

// ============================================================================
// Blocks
// ============================================================================

// blockStop reports whether the statement at the cursor terminates the
// enclosing construct. The terminator tokens are left for the caller.
type blockStop func(p *Parser) bool

// parseBlock parses statements until stop returns true or EOF.
func (p *Parser) parseBlock(stop blockStop) []ast.Statement {
	var stmts []ast.Statement
	for {
		p.skipSeparators()
		if p.at(lexer.TokenEOF) {
			return stmts
		}
		if stop != nil && stop(p) {
			return stmts
		}
		stmt := p.parseStatement()
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
}

func stopAt(ids ...lexer.TokenId) blockStop {
	return func(p *Parser) bool {
		for _, id := range ids {
			if p.at(id) {
				return true
			}
		}
		return false
	}
}

// stopAtEnd stops at END followed by the given keyword (e.g. END IF),
// or at any of the extra single-token terminators.
func stopAtEnd(closer lexer.TokenId, extra ...lexer.TokenId) blockStop {
	return func(p *Parser) bool {
		if p.at(lexer.TokenEnd) && p.peekAt(1).Id == closer {
			return true
		}
		for _, id := range extra {
			if p.at(id) {
				return true
			}
		}
		return false
	}
}

// expectEnd consumes END <closer>.
func (p *Parser) expectEnd(closer lexer.TokenId, what string) {
	p.expect(lexer.TokenEnd, "END")
	p.expect(closer, what)
}

// ============================================================================
// Statement dispatch
// ============================================================================

func (p *Parser) parseStatement() ast.Statement {
	tok := p.peek()
	switch tok.Id {
	case lexer.TokenRem:
		s := &ast.RemStmt{Text: tok.Text}
		p.base(s)
		p.advance()
		return s
	case lexer.TokenLet:
		p.advance()
		return p.parseAssignment()
	case lexer.TokenIdentifier:
		// label, assignment, or bare CALL
		if p.peekAt(1).Id == lexer.TokenColon {
			s := &ast.LabelStmt{Name: tok.Text}
			p.base(s)
			p.advance()
			p.advance()
			return s
		}
		return p.parseAssignmentOrCall()
	case lexer.TokenPrint:
		return p.parsePrint()
	case lexer.TokenInput:
		return p.parseInput()
	case lexer.TokenRead:
		return p.parseRead()
	case lexer.TokenData:
		return p.parseData()
	case lexer.TokenRestore:
		return p.parseRestore()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenFor:
		return p.parseFor()
	case lexer.TokenRepeat:
		return p.parseRepeat()
	case lexer.TokenDo:
		return p.parseDo()
	case lexer.TokenSelect:
		return p.parseSelect()
	case lexer.TokenTry:
		return p.parseTry()
	case lexer.TokenDim:
		return p.parseDim()
	case lexer.TokenRedim:
		return p.parseRedim()
	case lexer.TokenErase:
		return p.parseErase()
	case lexer.TokenLocal, lexer.TokenShared, lexer.TokenGlobal:
		return p.parseScopeDecl()
	case lexer.TokenCall:
		return p.parseCall()
	case lexer.TokenGoto:
		return p.parseGoto(false)
	case lexer.TokenGosub:
		return p.parseGoto(true)
	case lexer.TokenReturn:
		s := &ast.ReturnStmt{}
		p.base(s)
		p.advance()
		return s
	case lexer.TokenOn:
		return p.parseOn()
	case lexer.TokenExit:
		return p.parseExit()
	case lexer.TokenContinue:
		s := &ast.ContinueStmt{}
		p.base(s)
		p.advance()
		return s
	case lexer.TokenEnd:
		s := &ast.EndStmt{}
		p.base(s)
		p.advance()
		return s
	case lexer.TokenThrow:
		return p.parseThrow()
	case lexer.TokenFunction:
		return p.parseFunction()
	case lexer.TokenSub:
		return p.parseSub()
	case lexer.TokenType:
		return p.parseType()
	default:
		p.errorf("unexpected %q at start of statement", tok.Text)
		p.advance()
		return nil
	}
}

// ============================================================================
// Simple statements
// ============================================================================

func (p *Parser) parseAssignmentOrCall() ast.Statement {
	// Identifier already at cursor. Assignment forms:
	//   X = expr        X(i, j) = expr
	// Anything else is a SUB invocation without the CALL keyword.
	if p.peekAt(1).Id == lexer.TokenEquals {
		return p.parseAssignment()
	}
	if p.peekAt(1).Id == lexer.TokenParenOpen {
		// Scan ahead for '=' after the matching close paren.
		depth := 0
		for i := 1; ; i++ {
			switch p.peekAt(i).Id {
			case lexer.TokenParenOpen:
				depth++
			case lexer.TokenParenClose:
				depth--
				if depth == 0 {
					if p.peekAt(i+1).Id == lexer.TokenEquals {
						return p.parseAssignment()
					}
					return p.parseCallNoKeyword()
				}
			case lexer.TokenEOL, lexer.TokenEOF:
				return p.parseCallNoKeyword()
			}
		}
	}
	return p.parseCallNoKeyword()
}

func (p *Parser) parseAssignment() ast.Statement {
	s := &ast.LetStmt{}
	p.base(s)
	name := p.expect(lexer.TokenIdentifier, "variable name")
	if p.at(lexer.TokenParenOpen) {
		ref := &ast.ArrayRef{Name: name.Text}
		ref.SetLocation(name.Location)
		p.advance()
		for {
			ref.Indices = append(ref.Indices, p.parseExpression())
			if !p.accept(lexer.TokenComma) {
				break
			}
		}
		p.expect(lexer.TokenParenClose, ")")
		s.Target = ref
	} else {
		ref := &ast.VarRef{Name: name.Text}
		ref.SetLocation(name.Location)
		s.Target = ref
	}
	p.expect(lexer.TokenEquals, "=")
	s.Value = p.parseExpression()
	return s
}

func (p *Parser) parseCallNoKeyword() ast.Statement {
	s := &ast.CallStmt{}
	p.base(s)
	s.Name = p.expect(lexer.TokenIdentifier, "SUB name").Text
	if p.accept(lexer.TokenParenOpen) {
		if !p.at(lexer.TokenParenClose) {
			for {
				s.Args = append(s.Args, p.parseExpression())
				if !p.accept(lexer.TokenComma) {
					break
				}
			}
		}
		p.expect(lexer.TokenParenClose, ")")
	}
	return s
}

func (p *Parser) parseCall() ast.Statement {
	p.advance() // CALL
	return p.parseCallNoKeyword()
}

func (p *Parser) parsePrint() ast.Statement {
	s := &ast.PrintStmt{}
	p.base(s)
	p.advance()
	for !p.at(lexer.TokenEOL) && !p.at(lexer.TokenEOF) && !p.at(lexer.TokenColon) {
		item := ast.PrintItem{Expr: p.parseExpression()}
		switch p.peek().Id {
		case lexer.TokenComma:
			item.Sep = ','
			p.advance()
		case lexer.TokenSemiColon:
			item.Sep = ';'
			p.advance()
		}
		s.Items = append(s.Items, item)
		if item.Sep == 0 {
			break
		}
	}
	return s
}

func (p *Parser) parseInput() ast.Statement {
	s := &ast.InputStmt{}
	p.base(s)
	p.advance()
	if p.at(lexer.TokenString) {
		s.Prompt = p.advance().Text
		if !p.accept(lexer.TokenSemiColon) {
			p.accept(lexer.TokenComma)
		}
	}
	for {
		s.Targets = append(s.Targets, p.parseTargetRef())
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	return s
}

func (p *Parser) parseRead() ast.Statement {
	s := &ast.ReadStmt{}
	p.base(s)
	p.advance()
	for {
		s.Targets = append(s.Targets, p.parseTargetRef())
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	return s
}

// parseTargetRef parses a scalar or array-element store destination.
func (p *Parser) parseTargetRef() ast.Expression {
	name := p.expect(lexer.TokenIdentifier, "variable name")
	if p.at(lexer.TokenParenOpen) {
		ref := &ast.ArrayRef{Name: name.Text}
		ref.SetLocation(name.Location)
		p.advance()
		for {
			ref.Indices = append(ref.Indices, p.parseExpression())
			if !p.accept(lexer.TokenComma) {
				break
			}
		}
		p.expect(lexer.TokenParenClose, ")")
		return ref
	}
	ref := &ast.VarRef{Name: name.Text}
	ref.SetLocation(name.Location)
	return ref
}

func (p *Parser) parseData() ast.Statement {
	s := &ast.DataStmt{}
	p.base(s)
	p.advance()
	for {
		s.Values = append(s.Values, p.parseDataValue())
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	return s
}

func (p *Parser) parseDataValue() ast.Expression {
	loc := p.peek().Location
	neg := p.accept(lexer.TokenMinus)
	switch p.peek().Id {
	case lexer.TokenNumber:
		tok := p.advance()
		v, _ := strconv.ParseFloat(tok.Text, 64)
		if neg {
			v = -v
		}
		lit := &ast.NumberLit{Value: v, IsInt: !strings.ContainsAny(tok.Text, ".eE"), Text: tok.Text}
		lit.SetLocation(loc)
		return lit
	case lexer.TokenString:
		lit := &ast.StringLit{Value: p.advance().Text}
		lit.SetLocation(loc)
		return lit
	default:
		p.errorf("expected DATA literal, found %q", p.peek().Text)
		p.advance()
		lit := &ast.NumberLit{Value: 0, IsInt: true, Text: "0"}
		lit.SetLocation(loc)
		return lit
	}
}

func (p *Parser) parseRestore() ast.Statement {
	s := &ast.RestoreStmt{}
	p.base(s)
	p.advance()
	if p.at(lexer.TokenNumber) {
		s.TargetLine, _ = strconv.Atoi(p.advance().Text)
	}
	return s
}

func (p *Parser) parseThrow() ast.Statement {
	s := &ast.ThrowStmt{}
	p.base(s)
	p.advance()
	if !p.at(lexer.TokenEOL) && !p.at(lexer.TokenEOF) && !p.at(lexer.TokenColon) {
		s.Value = p.parseExpression()
	}
	return s
}

// ============================================================================
// Declarations
// ============================================================================

func (p *Parser) parseArrayDecls(requireBounds bool) []*ast.ArrayDecl {
	var decls []*ast.ArrayDecl
	for {
		name := p.expect(lexer.TokenIdentifier, "variable name")
		decl := &ast.ArrayDecl{Name: name.Text}
		if p.at(lexer.TokenParenOpen) {
			p.advance()
			for {
				decl.Bounds = append(decl.Bounds, p.parseExpression())
				if !p.accept(lexer.TokenComma) {
					break
				}
			}
			p.expect(lexer.TokenParenClose, ")")
		} else if requireBounds {
			p.errorf("expected ( after array name %s", name.Text)
		}
		if p.accept(lexer.TokenAs) {
			decl.TypeName = p.expect(lexer.TokenIdentifier, "type name").Text
		}
		decls = append(decls, decl)
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	return decls
}

func (p *Parser) parseDim() ast.Statement {
	s := &ast.DimStmt{}
	p.base(s)
	p.advance()
	s.Arrays = p.parseArrayDecls(false)
	return s
}

func (p *Parser) parseRedim() ast.Statement {
	s := &ast.RedimStmt{}
	p.base(s)
	p.advance()
	s.Preserve = p.accept(lexer.TokenPreserve)
	s.Arrays = p.parseArrayDecls(true)
	return s
}

func (p *Parser) parseErase() ast.Statement {
	s := &ast.EraseStmt{}
	p.base(s)
	p.advance()
	for {
		s.Names = append(s.Names, p.expect(lexer.TokenIdentifier, "array name").Text)
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	return s
}

func (p *Parser) parseScopeDecl() ast.Statement {
	kind := p.advance().Id
	var names []string
	for {
		names = append(names, p.expect(lexer.TokenIdentifier, "variable name").Text)
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	switch kind {
	case lexer.TokenLocal:
		s := &ast.LocalStmt{Names: names}
		p.base(s)
		return s
	case lexer.TokenShared:
		s := &ast.SharedStmt{Names: names}
		p.base(s)
		return s
	default:
		s := &ast.GlobalStmt{Names: names}
		p.base(s)
		return s
	}
}

func (p *Parser) parseType() ast.Statement {
	s := &ast.TypeDecl{}
	p.base(s)
	p.advance()
	s.Name = p.expect(lexer.TokenIdentifier, "type name").Text
	p.skipSeparators()
	for !(p.at(lexer.TokenEnd) && p.peekAt(1).Id == lexer.TokenType) && !p.at(lexer.TokenEOF) {
		field := &ast.Field{Name: p.expect(lexer.TokenIdentifier, "field name").Text}
		p.expect(lexer.TokenAs, "AS")
		field.Type = p.expect(lexer.TokenIdentifier, "field type").Text
		s.Fields = append(s.Fields, field)
		p.skipSeparators()
	}
	p.expectEnd(lexer.TokenType, "TYPE")
	return s
}

// ============================================================================
// Control flow statements
// ============================================================================

func (p *Parser) parseIf() ast.Statement {
	s := &ast.IfStmt{}
	p.base(s)
	p.advance()
	s.Cond = p.parseExpression()
	p.expect(lexer.TokenThen, "THEN")

	if p.at(lexer.TokenEOL) || p.at(lexer.TokenEOF) {
		// multi-line IF
		s.Then = p.parseBlock(stopAtEnd(lexer.TokenIf, lexer.TokenElse, lexer.TokenElseIf))
		switch p.peek().Id {
		case lexer.TokenElseIf:
			p.advance()
			// ELSEIF chain nests as a fresh IF in the else branch
			nested := p.parseIfRest()
			s.Else = []ast.Statement{nested}
		case lexer.TokenElse:
			p.advance()
			s.Else = p.parseBlock(stopAtEnd(lexer.TokenIf))
			p.expectEnd(lexer.TokenIf, "IF")
		default:
			p.expectEnd(lexer.TokenIf, "IF")
		}
		return s
	}

	// single-line IF: statements up to ELSE or end of line.
	// THEN <number> and ELSE <number> are implicit GOTOs.
	if p.at(lexer.TokenNumber) {
		s.Then = []ast.Statement{p.implicitGoto()}
	} else {
		s.Then = p.parseInlineStatements(true)
	}
	if p.accept(lexer.TokenElse) {
		if p.at(lexer.TokenNumber) {
			s.Else = []ast.Statement{p.implicitGoto()}
		} else {
			s.Else = p.parseInlineStatements(false)
		}
	}
	return s
}

func (p *Parser) implicitGoto() ast.Statement {
	tok := p.advance()
	n, _ := strconv.Atoi(tok.Text)
	s := &ast.GotoStmt{TargetLine: n}
	s.SetLine(p.curLine)
	s.SetLocation(tok.Location)
	return s
}

// parseIfRest parses the remainder of an ELSEIF arm (condition already
// pending at the cursor) and consumes the shared END IF.
func (p *Parser) parseIfRest() ast.Statement {
	s := &ast.IfStmt{}
	p.base(s)
	s.Cond = p.parseExpression()
	p.expect(lexer.TokenThen, "THEN")
	s.Then = p.parseBlock(stopAtEnd(lexer.TokenIf, lexer.TokenElse, lexer.TokenElseIf))
	switch p.peek().Id {
	case lexer.TokenElseIf:
		p.advance()
		s.Else = []ast.Statement{p.parseIfRest()}
	case lexer.TokenElse:
		p.advance()
		s.Else = p.parseBlock(stopAtEnd(lexer.TokenIf))
		p.expectEnd(lexer.TokenIf, "IF")
	default:
		p.expectEnd(lexer.TokenIf, "IF")
	}
	return s
}

// parseInlineStatements parses ':'-separated statements on the current
// line. stopAtElse ends the list before an ELSE keyword. A block-closing
// keyword also ends the list, so that a one-line IF inside a loop leaves
// the closer for the enclosing construct.
func (p *Parser) parseInlineStatements(stopAtElse bool) []ast.Statement {
	var stmts []ast.Statement
	for {
		switch p.peek().Id {
		case lexer.TokenEOL, lexer.TokenEOF, lexer.TokenNext, lexer.TokenWend,
			lexer.TokenLoop, lexer.TokenUntil, lexer.TokenCase,
			lexer.TokenCatch, lexer.TokenFinally, lexer.TokenElseIf:
			return stmts
		case lexer.TokenElse:
			if stopAtElse {
				return stmts
			}
		}
		stmt := p.parseStatement()
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
		if !p.accept(lexer.TokenColon) {
			return stmts
		}
	}
}

func (p *Parser) parseWhile() ast.Statement {
	s := &ast.WhileStmt{}
	p.base(s)
	p.advance()
	s.Cond = p.parseExpression()
	s.Body = p.parseBlock(stopAt(lexer.TokenWend))
	p.expect(lexer.TokenWend, "WEND")
	return s
}

func (p *Parser) parseFor() ast.Statement {
	s := &ast.ForStmt{}
	p.base(s)
	p.advance()
	s.Var = p.expect(lexer.TokenIdentifier, "loop variable").Text
	p.expect(lexer.TokenEquals, "=")
	s.Start = p.parseExpression()
	p.expect(lexer.TokenTo, "TO")
	s.Limit = p.parseExpression()
	if p.accept(lexer.TokenStep) {
		s.Step = p.parseExpression()
	}
	s.Body = p.parseBlock(stopAt(lexer.TokenNext))
	p.expect(lexer.TokenNext, "NEXT")
	if p.at(lexer.TokenIdentifier) {
		name := p.advance()
		if !strings.EqualFold(name.Text, s.Var) {
			p.errorf("NEXT %s does not match FOR %s", name.Text, s.Var)
		}
	}
	return s
}

func (p *Parser) parseRepeat() ast.Statement {
	s := &ast.RepeatStmt{}
	p.base(s)
	p.advance()
	s.Body = p.parseBlock(stopAt(lexer.TokenUntil))
	p.expect(lexer.TokenUntil, "UNTIL")
	s.Cond = p.parseExpression()
	return s
}

func (p *Parser) parseDo() ast.Statement {
	s := &ast.DoStmt{}
	p.base(s)
	p.advance()
	if p.accept(lexer.TokenWhile) {
		s.Pre = &ast.DoCond{Expr: p.parseExpression()}
	} else if p.accept(lexer.TokenUntil) {
		s.Pre = &ast.DoCond{Expr: p.parseExpression(), Until: true}
	}
	s.Body = p.parseBlock(stopAt(lexer.TokenLoop))
	p.expect(lexer.TokenLoop, "LOOP")
	if p.accept(lexer.TokenWhile) {
		s.Post = &ast.DoCond{Expr: p.parseExpression()}
	} else if p.accept(lexer.TokenUntil) {
		s.Post = &ast.DoCond{Expr: p.parseExpression(), Until: true}
	}
	if s.Pre != nil && s.Post != nil {
		p.errorf("DO loop cannot have both a pre and a post condition")
		s.Post = nil
	}
	return s
}

func (p *Parser) parseSelect() ast.Statement {
	s := &ast.SelectStmt{}
	p.base(s)
	p.advance()
	p.expect(lexer.TokenCase, "CASE")
	s.Selector = p.parseExpression()
	p.skipSeparators()
	for p.at(lexer.TokenCase) {
		p.advance()
		if p.accept(lexer.TokenElse) {
			s.Default = p.parseBlock(stopAtEnd(lexer.TokenSelect, lexer.TokenCase))
			continue
		}
		arm := &ast.CaseArm{}
		for {
			arm.Preds = append(arm.Preds, p.parseCasePred())
			if !p.accept(lexer.TokenComma) {
				break
			}
		}
		arm.Body = p.parseBlock(stopAtEnd(lexer.TokenSelect, lexer.TokenCase))
		s.Cases = append(s.Cases, arm)
	}
	p.expectEnd(lexer.TokenSelect, "SELECT")
	return s
}

func (p *Parser) parseCasePred() *ast.CasePred {
	if p.accept(lexer.TokenIs) {
		pred := &ast.CasePred{Kind: ast.CaseRel}
		switch p.peek().Id {
		case lexer.TokenEquals, lexer.TokenNotEquals, lexer.TokenLess,
			lexer.TokenLessOrEquals, lexer.TokenGreater, lexer.TokenGreaterOrEquals:
			pred.Op = p.advance().Text
		default:
			p.errorf("expected relational operator after IS, found %q", p.peek().Text)
			pred.Op = "="
		}
		pred.Lo = p.parseExpression()
		return pred
	}
	pred := &ast.CasePred{Kind: ast.CaseExact, Lo: p.parseExpression()}
	if p.accept(lexer.TokenTo) {
		pred.Kind = ast.CaseRange
		pred.Hi = p.parseExpression()
	}
	return pred
}

func (p *Parser) parseTry() ast.Statement {
	s := &ast.TryStmt{}
	p.base(s)
	p.advance()
	s.Body = p.parseBlock(stopAtEnd(lexer.TokenTry, lexer.TokenCatch, lexer.TokenFinally))
	if p.accept(lexer.TokenCatch) {
		s.Catch = p.parseBlock(stopAtEnd(lexer.TokenTry, lexer.TokenFinally))
	}
	if p.accept(lexer.TokenFinally) {
		s.Finally = p.parseBlock(stopAtEnd(lexer.TokenTry))
	}
	p.expectEnd(lexer.TokenTry, "TRY")
	return s
}

func (p *Parser) parseGoto(gosub bool) ast.Statement {
	var line int
	var label string
	loc := p.peek().Location
	p.advance()
	switch p.peek().Id {
	case lexer.TokenNumber:
		line, _ = strconv.Atoi(p.advance().Text)
	case lexer.TokenIdentifier:
		label = p.advance().Text
	default:
		p.errorf("expected line number or label, found %q", p.peek().Text)
	}
	if gosub {
		s := &ast.GosubStmt{TargetLine: line, TargetLabel: label}
		s.SetLine(p.curLine)
		s.SetLocation(loc)
		return s
	}
	s := &ast.GotoStmt{TargetLine: line, TargetLabel: label}
	s.SetLine(p.curLine)
	s.SetLocation(loc)
	return s
}

func (p *Parser) parseOn() ast.Statement {
	s := &ast.OnGotoStmt{}
	p.base(s)
	p.advance()
	s.Selector = p.parseExpression()
	switch p.peek().Id {
	case lexer.TokenGoto:
		p.advance()
	case lexer.TokenGosub:
		p.advance()
		s.IsGosub = true
	default:
		p.errorf("expected GOTO or GOSUB after ON, found %q", p.peek().Text)
	}
	for {
		n, _ := strconv.Atoi(p.expect(lexer.TokenNumber, "target line number").Text)
		s.Targets = append(s.Targets, n)
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	return s
}

func (p *Parser) parseExit() ast.Statement {
	s := &ast.ExitStmt{}
	p.base(s)
	p.advance()
	switch p.peek().Id {
	case lexer.TokenFor:
		s.Kind = ast.ExitFor
	case lexer.TokenWhile:
		s.Kind = ast.ExitWhile
	case lexer.TokenDo:
		s.Kind = ast.ExitDo
	case lexer.TokenSelect:
		s.Kind = ast.ExitSelect
	case lexer.TokenFunction:
		s.Kind = ast.ExitFunction
	case lexer.TokenSub:
		s.Kind = ast.ExitSub
	default:
		p.errorf("expected FOR, WHILE, DO, SELECT, FUNCTION or SUB after EXIT, found %q", p.peek().Text)
		return s
	}
	p.advance()
	return s
}

// ============================================================================
// SUB / FUNCTION
// ============================================================================

func (p *Parser) parseParams() []*ast.Param {
	var params []*ast.Param
	if !p.accept(lexer.TokenParenOpen) {
		return params
	}
	if p.at(lexer.TokenParenClose) {
		p.advance()
		return params
	}
	for {
		param := &ast.Param{Name: p.expect(lexer.TokenIdentifier, "parameter name").Text}
		if p.accept(lexer.TokenAs) {
			param.Type = p.expect(lexer.TokenIdentifier, "parameter type").Text
		}
		params = append(params, param)
		if !p.accept(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenParenClose, ")")
	return params
}

func (p *Parser) parseFunction() ast.Statement {
	s := &ast.FunctionDecl{}
	p.base(s)
	p.advance()
	s.Name = p.expect(lexer.TokenIdentifier, "FUNCTION name").Text
	s.Params = p.parseParams()
	if p.accept(lexer.TokenAs) {
		s.ReturnType = p.expect(lexer.TokenIdentifier, "return type").Text
	}
	s.Body = p.parseBlock(stopAtEnd(lexer.TokenFunction))
	p.expectEnd(lexer.TokenFunction, "FUNCTION")
	return s
}

func (p *Parser) parseSub() ast.Statement {
	s := &ast.SubDecl{}
	p.base(s)
	p.advance()
	s.Name = p.expect(lexer.TokenIdentifier, "SUB name").Text
	s.Params = p.parseParams()
	s.Body = p.parseBlock(stopAtEnd(lexer.TokenSub))
	p.expectEnd(lexer.TokenSub, "SUB")
	return s
}

// ============================================================================
// Expressions
// ============================================================================
//
// Precedence, loosest first:
//   OR XOR | AND | NOT | comparisons | + - & | * / \ MOD | unary - | ^

func (p *Parser) parseExpression() ast.Expression {
	return p.parseOr()
}

func (p *Parser) binary(op string, left, right ast.Expression) ast.Expression {
	e := &ast.BinaryExpr{Op: op, Left: left, Right: right}
	e.SetLocation(left.Location())
	return e
}

func (p *Parser) parseOr() ast.Expression {
	left := p.parseAnd()
	for {
		switch p.peek().Id {
		case lexer.TokenOr:
			p.advance()
			left = p.binary("OR", left, p.parseAnd())
		case lexer.TokenXor:
			p.advance()
			left = p.binary("XOR", left, p.parseAnd())
		default:
			return left
		}
	}
}

func (p *Parser) parseAnd() ast.Expression {
	left := p.parseNot()
	for p.at(lexer.TokenAnd) {
		p.advance()
		left = p.binary("AND", left, p.parseNot())
	}
	return left
}

func (p *Parser) parseNot() ast.Expression {
	if p.at(lexer.TokenNot) {
		loc := p.peek().Location
		p.advance()
		e := &ast.UnaryExpr{Op: "NOT", Operand: p.parseNot()}
		e.SetLocation(loc)
		return e
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() ast.Expression {
	left := p.parseAdditive()
	for {
		var op string
		switch p.peek().Id {
		case lexer.TokenEquals:
			op = "="
		case lexer.TokenNotEquals:
			op = "<>"
		case lexer.TokenLess:
			op = "<"
		case lexer.TokenLessOrEquals:
			op = "<="
		case lexer.TokenGreater:
			op = ">"
		case lexer.TokenGreaterOrEquals:
			op = ">="
		default:
			return left
		}
		p.advance()
		left = p.binary(op, left, p.parseAdditive())
	}
}

func (p *Parser) parseAdditive() ast.Expression {
	left := p.parseMultiplicative()
	for {
		switch p.peek().Id {
		case lexer.TokenPlus:
			p.advance()
			left = p.binary("+", left, p.parseMultiplicative())
		case lexer.TokenMinus:
			p.advance()
			left = p.binary("-", left, p.parseMultiplicative())
		case lexer.TokenAmpersand:
			p.advance()
			left = p.binary("&", left, p.parseMultiplicative())
		default:
			return left
		}
	}
}

func (p *Parser) parseMultiplicative() ast.Expression {
	left := p.parseUnary()
	for {
		switch p.peek().Id {
		case lexer.TokenAsterisk:
			p.advance()
			left = p.binary("*", left, p.parseUnary())
		case lexer.TokenSlash:
			p.advance()
			left = p.binary("/", left, p.parseUnary())
		case lexer.TokenBackslash:
			p.advance()
			left = p.binary("\\", left, p.parseUnary())
		case lexer.TokenMod:
			p.advance()
			left = p.binary("MOD", left, p.parseUnary())
		default:
			return left
		}
	}
}

func (p *Parser) parseUnary() ast.Expression {
	if p.at(lexer.TokenMinus) {
		loc := p.peek().Location
		p.advance()
		e := &ast.UnaryExpr{Op: "-", Operand: p.parseUnary()}
		e.SetLocation(loc)
		return e
	}
	return p.parsePower()
}

func (p *Parser) parsePower() ast.Expression {
	left := p.parsePrimary()
	if p.at(lexer.TokenCaret) {
		p.advance()
		// right-associative
		return p.binary("^", left, p.parseUnary())
	}
	return left
}

func (p *Parser) parsePrimary() ast.Expression {
	tok := p.peek()
	switch tok.Id {
	case lexer.TokenNumber:
		p.advance()
		v, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			p.errorf("bad number literal %q", tok.Text)
		}
		lit := &ast.NumberLit{Value: v, IsInt: !strings.ContainsAny(tok.Text, ".eE"), Text: tok.Text}
		lit.SetLocation(tok.Location)
		return lit
	case lexer.TokenString:
		p.advance()
		lit := &ast.StringLit{Value: tok.Text}
		lit.SetLocation(tok.Location)
		return lit
	case lexer.TokenIIf:
		p.advance()
		e := &ast.IIfExpr{}
		e.SetLocation(tok.Location)
		p.expect(lexer.TokenParenOpen, "(")
		e.Cond = p.parseExpression()
		p.expect(lexer.TokenComma, ",")
		e.WhenTrue = p.parseExpression()
		p.expect(lexer.TokenComma, ",")
		e.WhenFalse = p.parseExpression()
		p.expect(lexer.TokenParenClose, ")")
		return e
	case lexer.TokenParenOpen:
		p.advance()
		e := p.parseExpression()
		p.expect(lexer.TokenParenClose, ")")
		return e
	case lexer.TokenIdentifier:
		p.advance()
		if p.at(lexer.TokenParenOpen) {
			// array element or function call; semantic analysis decides
			call := &ast.CallExpr{Name: tok.Text}
			call.SetLocation(tok.Location)
			p.advance()
			if !p.at(lexer.TokenParenClose) {
				for {
					call.Args = append(call.Args, p.parseExpression())
					if !p.accept(lexer.TokenComma) {
						break
					}
				}
			}
			p.expect(lexer.TokenParenClose, ")")
			return call
		}
		ref := &ast.VarRef{Name: tok.Text}
		ref.SetLocation(tok.Location)
		return ref
	default:
		p.errorf("expected expression, found %q", tok.Text)
		p.advance()
		lit := &ast.NumberLit{Value: 0, IsInt: true, Text: "0"}
		lit.SetLocation(tok.Location)
		return lit
	}
}
