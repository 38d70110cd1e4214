package sqlinline

const QCreateClientState = `--sql 5fb83853-3fc3-4a1f-87dc-524e0deab1e3
create table if not exists client_state (
    namespace text not null,
    key text not null,
    value bytea not null,
    updated_at timestamptz not null default now(),
    primary key (namespace, key)
);
`

const QSelectClientState = `--sql 4f86c0f2-7918-4e96-8186-66930f9ecc2b
select value
from client_state
where namespace = $1::text and key = $2::text
limit 1;
`

const QUpsertClientState = `--sql 1a3d81fa-5236-4228-b31f-7ff928735274
insert into client_state (namespace, key, value, updated_at)
values ($1::text, $2::text, $3::bytea, now())
on conflict (namespace, key) do update set
    value = excluded.value,
    updated_at = now();
`

const QDeleteClientState = `--sql 67ad4d06-a852-4de9-8123-6837ce025e48
delete from client_state
where namespace = $1::text and key = $2::text;
`
