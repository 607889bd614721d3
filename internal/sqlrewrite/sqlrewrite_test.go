package sqlrewrite

import (
	"strings"
	"testing"
)

func TestParseValid(t *testing.T) {
	stmt, err := Parse("select id, name from users where id = 1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if stmt == nil {
		t.Fatal("expected non-nil statement")
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("select select select ((("); err == nil {
		t.Error("expected parse error for malformed SQL")
	}
}

func TestProducesRows(t *testing.T) {
	cases := []struct {
		sql  string
		want bool
	}{
		{"select * from users", true},
		{"select 1 union select 2", true},
		{"update users set name = 'x' where id = 1", false},
		{"delete from users where id = 1", false},
		{"insert into users (id) values (1)", false},
	}

	for _, c := range cases {
		stmt, err := Parse(c.sql)
		if err != nil {
			t.Fatalf("%q: Parse: %v", c.sql, err)
		}
		if got := ProducesRows(stmt); got != c.want {
			t.Errorf("%q: ProducesRows = %v, want %v", c.sql, got, c.want)
		}
	}
}

func TestAnalyseClassifiesStatementKind(t *testing.T) {
	cases := []struct {
		sql  string
		want StatementKind
	}{
		{"select * from users", KindSelect},
		{"update users set name = 'x'", KindUpdate},
		{"delete from users", KindDelete},
		{"insert into users (id) values (1)", KindDefault},
	}

	for _, c := range cases {
		stmt, err := Parse(c.sql)
		if err != nil {
			t.Fatalf("%q: Parse: %v", c.sql, err)
		}
		ctx, err := Analyse(stmt)
		if err != nil {
			t.Fatalf("%q: Analyse: %v", c.sql, err)
		}
		if ctx.Kind != c.want {
			t.Errorf("%q: Kind = %v, want %v", c.sql, ctx.Kind, c.want)
		}
	}
}

func TestAnalyseCollectsTablesAndAliases(t *testing.T) {
	stmt, err := Parse("select * from users u join orders o on u.id = o.user_id")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ctx, err := Analyse(stmt)
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}

	if len(ctx.Common.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %v", ctx.Common.Tables)
	}
	if alias, ok := ctx.Common.Tables["users"]; !ok || alias != "u" {
		t.Errorf("expected users aliased to u, got %q (present=%v)", alias, ok)
	}
	if alias, ok := ctx.Common.Tables["orders"]; !ok || alias != "o" {
		t.Errorf("expected orders aliased to o, got %q (present=%v)", alias, ok)
	}
}

func TestAnalyseUnaliasedTableHasEmptyAlias(t *testing.T) {
	stmt, err := Parse("select * from users")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ctx, err := Analyse(stmt)
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}

	if alias, ok := ctx.Common.Tables["users"]; !ok || alias != "" {
		t.Errorf("expected users with empty alias, got %q (present=%v)", alias, ok)
	}
}

func TestRewriteIdentityWithoutSubstitution(t *testing.T) {
	sql := "select id, name from users where id = 1"
	stmt, err := Parse(sql)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out := Rewrite(stmt, nil)
	if !strings.Contains(out, "from users") {
		t.Errorf("expected rewritten SQL to still reference users, got %q", out)
	}
	if !strings.Contains(out, "select id, name") {
		t.Errorf("expected select list preserved, got %q", out)
	}
}

func TestRewriteSubstitutesUnqualifiedTable(t *testing.T) {
	stmt, err := Parse("select * from orders")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out := Rewrite(stmt, map[string]string{"orders": "orders_seg3"})
	if !strings.Contains(out, "orders_seg3") {
		t.Errorf("expected substituted table name in output, got %q", out)
	}
	if strings.Contains(out, "from orders ") || strings.HasSuffix(out, "from orders") {
		t.Errorf("expected original table name replaced, got %q", out)
	}
}

func TestRewriteSubstitutesQualifiedTable(t *testing.T) {
	stmt, err := Parse("select * from db1.orders")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out := Rewrite(stmt, map[string]string{"orders": "orders_seg3"})
	if !strings.Contains(out, "db1.orders_seg3") {
		t.Errorf("expected qualified substituted table name, got %q", out)
	}
}

func TestRewriteLeavesUnmatchedTablesAlone(t *testing.T) {
	stmt, err := Parse("select * from users join orders on users.id = orders.user_id")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out := Rewrite(stmt, map[string]string{"orders": "orders_seg3"})
	if !strings.Contains(out, "users") {
		t.Errorf("expected users left untouched, got %q", out)
	}
	if !strings.Contains(out, "orders_seg3") {
		t.Errorf("expected orders substituted, got %q", out)
	}
}
