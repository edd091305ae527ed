package db

import (
	"context"
	"database/sql"

	_ "embed"
)

//go:embed schema.sql
var Schema string

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Post struct {
	Id        int64
	AuthorId  int64
	GroupPost bool
	CrawledAt int64
}

type Comment struct {
	PostId     int64
	Id         int64
	ParentId   int64
	AuthorId   int64
	AuthorName string
	Body       string
	BodyHtml   string
	MediaKind  int64
	MediaUrl   string
	MediaTitle string
}

type Mention struct {
	PostId    int64
	CommentId int64
	Handle    string
	UserId    int64
}

type Reaction struct {
	PostId   int64
	UserId   int64
	UserName string
	Kind     string
}

type Share struct {
	PostId   int64
	UserId   int64
	UserName string
}

const upsertPost = `
INSERT INTO post (id, author_id, group_post, crawled_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE
SET author_id = excluded.author_id,
    group_post = excluded.group_post,
    crawled_at = excluded.crawled_at
`

func (q *Queries) UpsertPost(ctx context.Context, arg Post) error {
	_, err := q.db.ExecContext(ctx, upsertPost,
		arg.Id, arg.AuthorId, arg.GroupPost, arg.CrawledAt)
	return err
}

const getPost = `
SELECT id, author_id, group_post, crawled_at FROM post WHERE id = ?
`

func (q *Queries) GetPost(ctx context.Context, id int64) (Post, error) {
	row := q.db.QueryRowContext(ctx, getPost, id)
	var out Post
	err := row.Scan(&out.Id, &out.AuthorId, &out.GroupPost, &out.CrawledAt)
	return out, err
}

const upsertComment = `
INSERT INTO comment (
    post_id, id, parent_id, author_id, author_name,
    body, body_html, media_kind, media_url, media_title
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (post_id, id) DO UPDATE
SET parent_id = excluded.parent_id,
    author_id = excluded.author_id,
    author_name = excluded.author_name,
    body = excluded.body,
    body_html = excluded.body_html,
    media_kind = excluded.media_kind,
    media_url = excluded.media_url,
    media_title = excluded.media_title
`

func (q *Queries) UpsertComment(ctx context.Context, arg Comment) error {
	_, err := q.db.ExecContext(ctx, upsertComment,
		arg.PostId, arg.Id, arg.ParentId, arg.AuthorId, arg.AuthorName,
		arg.Body, arg.BodyHtml, arg.MediaKind, arg.MediaUrl, arg.MediaTitle)
	return err
}

const getComments = `
SELECT post_id, id, parent_id, author_id, author_name,
       body, body_html, media_kind, media_url, media_title
FROM comment WHERE post_id = ? ORDER BY id
`

func (q *Queries) GetComments(ctx context.Context, postId int64) ([]Comment, error) {
	rows, err := q.db.QueryContext(ctx, getComments, postId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		var c Comment
		err := rows.Scan(
			&c.PostId, &c.Id, &c.ParentId, &c.AuthorId, &c.AuthorName,
			&c.Body, &c.BodyHtml, &c.MediaKind, &c.MediaUrl, &c.MediaTitle)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const getCommentIds = `
SELECT id FROM comment WHERE post_id = ?
`

func (q *Queries) GetCommentIds(ctx context.Context, postId int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, getCommentIds, postId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const insertMention = `
INSERT INTO mention (post_id, comment_id, handle, user_id)
VALUES (?, ?, ?, ?)
ON CONFLICT (post_id, comment_id, handle) DO UPDATE
SET user_id = excluded.user_id
`

func (q *Queries) InsertMention(ctx context.Context, arg Mention) error {
	_, err := q.db.ExecContext(ctx, insertMention,
		arg.PostId, arg.CommentId, arg.Handle, arg.UserId)
	return err
}

const getMentions = `
SELECT post_id, comment_id, handle, user_id
FROM mention WHERE post_id = ? AND comment_id = ? ORDER BY user_id DESC
`

func (q *Queries) GetMentions(ctx context.Context, postId, commentId int64) ([]Mention, error) {
	rows, err := q.db.QueryContext(ctx, getMentions, postId, commentId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mention
	for rows.Next() {
		var m Mention
		err := rows.Scan(&m.PostId, &m.CommentId, &m.Handle, &m.UserId)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const upsertReaction = `
INSERT INTO reaction (post_id, user_id, user_name, kind)
VALUES (?, ?, ?, ?)
ON CONFLICT (post_id, user_id) DO UPDATE
SET user_name = excluded.user_name,
    kind = excluded.kind
`

func (q *Queries) UpsertReaction(ctx context.Context, arg Reaction) error {
	_, err := q.db.ExecContext(ctx, upsertReaction,
		arg.PostId, arg.UserId, arg.UserName, arg.Kind)
	return err
}

const getReactions = `
SELECT post_id, user_id, user_name, kind
FROM reaction WHERE post_id = ? ORDER BY user_id
`

func (q *Queries) GetReactions(ctx context.Context, postId int64) ([]Reaction, error) {
	rows, err := q.db.QueryContext(ctx, getReactions, postId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reaction
	for rows.Next() {
		var r Reaction
		err := rows.Scan(&r.PostId, &r.UserId, &r.UserName, &r.Kind)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const upsertShare = `
INSERT INTO share (post_id, user_id, user_name)
VALUES (?, ?, ?)
ON CONFLICT (post_id, user_id) DO UPDATE
SET user_name = excluded.user_name
`

func (q *Queries) UpsertShare(ctx context.Context, arg Share) error {
	_, err := q.db.ExecContext(ctx, upsertShare,
		arg.PostId, arg.UserId, arg.UserName)
	return err
}

const getShares = `
SELECT post_id, user_id, user_name
FROM share WHERE post_id = ? ORDER BY user_id
`

func (q *Queries) GetShares(ctx context.Context, postId int64) ([]Share, error) {
	rows, err := q.db.QueryContext(ctx, getShares, postId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Share
	for rows.Next() {
		var s Share
		err := rows.Scan(&s.PostId, &s.UserId, &s.UserName)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
