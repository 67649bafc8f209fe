package query

import (
	"fmt"
	"strings"
)

func (p *Parser) parseShow() (Statement, error) {
	p.advance() // SHOW

	switch p.peek().Type {
	case TokenDatabases:
		p.advance()
		return ShowDatabasesStmt{}, nil

	case TokenTables:
		p.advance()
		if _, err := p.expect(TokenIn); err != nil {
			return nil, err
		}
		db, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		return ShowTablesStmt{DB: db.Value}, nil

	case TokenIndexes:
		p.advance()
		if p.match(TokenIn) {
			db, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			return ShowIndexesStmt{DB: db.Value}, nil
		}
		if _, err := p.expect(TokenOn); err != nil {
			return nil, err
		}
		db, table, err := p.parseQualifiedName()
		if err != nil {
			return nil, err
		}
		return ShowIndexesStmt{DB: db, Table: table}, nil

	default:
		t := p.peek()
		return nil, fmt.Errorf("parse error at line %d: expected DATABASES, TABLES or INDEXES after SHOW, got %q", t.Line, t.Value)
	}
}

func (p *Parser) parseCreate() (Statement, error) {
	p.advance() // CREATE

	switch p.peek().Type {
	case TokenDatabase:
		p.advance()
		name, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		return CreateDatabaseStmt{Name: name.Value}, nil

	case TokenTable:
		p.advance()
		return p.parseCreateTable()

	case TokenFulltext:
		p.advance()
		if _, err := p.expect(TokenIndex); err != nil {
			return nil, err
		}
		return p.parseCreateIndex(true)

	case TokenIndex:
		p.advance()
		return p.parseCreateIndex(false)

	default:
		t := p.peek()
		return nil, fmt.Errorf("parse error at line %d: expected DATABASE, TABLE or INDEX after CREATE, got %q", t.Line, t.Value)
	}
}

func (p *Parser) parseCreateTable() (Statement, error) {
	db, table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}

	stmt := CreateTableStmt{DB: db, Table: table}
	if p.match(TokenLeftParen) {
		for {
			nameTok, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			typeTok, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, ColumnDef{Name: nameTok.Value, Type: typeTok.Value})
			if p.match(TokenComma) {
				continue
			}
			break
		}
		if _, err := p.expect(TokenRightParen); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseCreateIndex(fulltext bool) (Statement, error) {
	if _, err := p.expect(TokenOn); err != nil {
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
	return CreateIndexStmt{DB: db, Table: table, Columns: cols, Fulltext: fulltext}, nil
}

func (p *Parser) parseColumnList() ([]string, error) {
	if _, err := p.expect(TokenLeftParen); err != nil {
		return nil, err
	}
	var cols []string
	for {
		tok, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		cols = append(cols, tok.Value)
		if p.match(TokenComma) {
			continue
		}
		break
	}
	if _, err := p.expect(TokenRightParen); err != nil {
		return nil, err
	}
	return cols, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	p.advance() // DROP

	switch p.peek().Type {
	case TokenDatabase:
		p.advance()
		name, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		return DropDatabaseStmt{Name: name.Value}, nil

	case TokenTable:
		p.advance()
		db, table, err := p.parseQualifiedName()
		if err != nil {
			return nil, err
		}
		return DropTableStmt{DB: db, Table: table}, nil

	case TokenIndex:
		p.advance()
		if _, err := p.expect(TokenOn); err != nil {
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
		return DropIndexStmt{DB: db, Table: table, Columns: cols}, nil

	default:
		t := p.peek()
		return nil, fmt.Errorf("parse error at line %d: expected DATABASE, TABLE or INDEX after DROP, got %q", t.Line, t.Value)
	}
}

func (p *Parser) parseAlter() (Statement, error) {
	p.advance() // ALTER
	if _, err := p.expect(TokenTable); err != nil {
		return nil, err
	}
	db, table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}

	stmt := AlterTableStmt{DB: db, Table: table}
	switch p.peek().Type {
	case TokenAdd:
		p.advance()
		stmt.Add = true
	case TokenDrop:
		p.advance()
		stmt.Add = false
	default:
		t := p.peek()
		return nil, fmt.Errorf("parse error at line %d: expected ADD or DROP after ALTER TABLE, got %q", t.Line, t.Value)
	}
	if _, err := p.expect(TokenColumn); err != nil {
		return nil, err
	}
	name, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	stmt.Column.Name = name.Value
	if stmt.Add {
		typeTok, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		stmt.Column.Type = typeTok.Value
	}
	return stmt, nil
}

// parseControl handles the administrative statements: `optimization
// (enable|disable|status|level <lvl>)`, `cache
// (enable|disable|clear|stats)`, `statistics collect`.
func (p *Parser) parseControl() (Statement, error) {
	domainTok := p.advance()
	domain := strings.ToLower(domainTok.Value)

	actionTok := p.advance()
	switch actionTok.Type {
	case TokenEnable:
		return ControlStmt{Domain: domain, Action: "enable"}, nil
	case TokenDisable:
		return ControlStmt{Domain: domain, Action: "disable"}, nil
	case TokenStatus:
		return ControlStmt{Domain: domain, Action: "status"}, nil
	case TokenLevel:
		lvlTok, err := p.expect(TokenNumber)
		if err != nil {
			return nil, err
		}
		var lvl int
		fmt.Sscanf(lvlTok.Value, "%d", &lvl)
		return ControlStmt{Domain: domain, Action: "level", Level: lvl}, nil
	case TokenClear:
		return ControlStmt{Domain: domain, Action: "clear"}, nil
	case TokenStats:
		return ControlStmt{Domain: domain, Action: "stats"}, nil
	case TokenCollect:
		return ControlStmt{Domain: domain, Action: "collect"}, nil
	default:
		return nil, fmt.Errorf("parse error at line %d: unrecognized control action %q for %q", actionTok.Line, actionTok.Value, domain)
	}
}
