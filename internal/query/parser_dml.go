package query

import (
	"fmt"
	"strconv"
	"strings"
)

func (p *Parser) parseInsert() (Statement, error) {
	p.advance() // INSERT
	if _, err := p.expect(TokenInto); err != nil {
		return nil, err
	}
	db, table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}

	cols, err := p.parseColumnList()
	if err != nil {
		return nil, err
	}

	if _, err := p.expect(TokenValues); err != nil {
		return nil, err
	}

	stmt := InsertStmt{DB: db, Table: table, Columns: cols}
	for {
		if _, err := p.expect(TokenLeftParen); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			v, err := p.parsePrimaryExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, v)
			if p.match(TokenComma) {
				continue
			}
			break
		}
		if _, err := p.expect(TokenRightParen); err != nil {
			return nil, err
		}
		if len(row) != len(cols) {
			return nil, fmt.Errorf("INSERT column count (%d) does not match value count (%d)", len(cols), len(row))
		}
		stmt.Rows = append(stmt.Rows, row)
		if p.match(TokenComma) {
			continue
		}
		break
	}
	return stmt, nil
}

// parseSelectColumn parses one SELECT column-list entry: a bare column
// name, or an aggregate call `FUNC(col)`/`FUNC(*)`, which the optimizer
// later recognizes as a bare aggregate and lowers to SCALAR_AGGREGATE.
// Aggregate calls are rendered back to their canonical `FUNC(arg)`
// string form.
func (p *Parser) parseSelectColumn() (string, error) {
	tok, err := p.expect(TokenIdentifier)
	if err != nil {
		return "", err
	}
	if !p.check(TokenLeftParen) {
		return tok.Value, nil
	}

	p.advance() // (
	var arg string
	if p.match(TokenStar) {
		arg = "*"
	} else {
		argTok, err := p.expect(TokenIdentifier)
		if err != nil {
			return "", err
		}
		arg = argTok.Value
	}
	if _, err := p.expect(TokenRightParen); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s)", strings.ToUpper(tok.Value), arg), nil
}

func (p *Parser) parseSelect() (Statement, error) {
	p.advance() // SELECT
	stmt := SelectStmt{}

	if p.match(TokenDistinct) {
		stmt.Distinct = true
	}

	if p.match(TokenStar) {
		stmt.Columns = nil
	} else {
		for {
			col, err := p.parseSelectColumn()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.match(TokenComma) {
				continue
			}
			break
		}
	}

	if _, err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	db, table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.DB, stmt.Table = db, table

	if p.match(TokenJoin) {
		joinDB, joinTable, err := p.parseQualifiedName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenOn); err != nil {
			return nil, err
		}
		leftTok, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEquals); err != nil {
			return nil, err
		}
		rightTok, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		stmt.Join = &JoinClause{DB: joinDB, Table: joinTable, LeftCol: leftTok.Value, RightCol: rightTok.Value}
	}

	if p.match(TokenWhere) {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.match(TokenGroup) {
		if _, err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		for {
			tok, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, tok.Value)
			if p.match(TokenComma) {
				continue
			}
			break
		}
	}

	if p.match(TokenOrder) {
		if _, err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		for {
			tok, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			term := OrderTerm{Col: tok.Value}
			if p.match(TokenDesc) {
				term.Desc = true
			} else {
				p.match(TokenAsc)
			}
			stmt.OrderBy = append(stmt.OrderBy, term)
			if p.match(TokenComma) {
				continue
			}
			break
		}
	}

	if p.match(TokenLimit) {
		tok, err := p.expect(TokenNumber)
		if err != nil {
			return nil, err
		}
		n, _ := strconv.Atoi(tok.Value)
		stmt.Limit = n
		stmt.HasLimit = true

		if p.match(TokenOffset) {
			offTok, err := p.expect(TokenNumber)
			if err != nil {
				return nil, err
			}
			off, _ := strconv.Atoi(offTok.Value)
			stmt.Offset = off
		}
	}

	return stmt, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.advance() // UPDATE
	db, table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenSet); err != nil {
		return nil, err
	}

	stmt := UpdateStmt{DB: db, Table: table}
	for {
		colTok, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEquals); err != nil {
			return nil, err
		}
		val, err := p.parsePrimaryExpr()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, Assignment{Col: colTok.Value, Value: val})
		if p.match(TokenComma) {
			continue
		}
		break
	}

	if p.match(TokenWhere) {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.advance() // DELETE

	if p.match(TokenEverything) {
		return ControlStmt{Domain: "delete", Action: "everything"}, nil
	}

	p.match(TokenFrom) // FROM is optional in DELETE
	db, table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}

	stmt := DeleteStmt{DB: db, Table: table}
	if p.match(TokenWhere) {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}
