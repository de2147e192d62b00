package sqlinline

// QCreateQuotaTable creates the per-client quota table used by the Postgres store.
const QCreateQuotaTable = `--sql 7b1f6c0e-3a52-4d8e-9f41-2c6d8a9e5b10
create table if not exists rate_limits (
  client_key   text primary key,
  consumed     integer not null,
  window_start timestamptz not null
);
`

// QConsumeQuota consumes one point for $1 at time $2 with a window of $3 seconds
// and a limit of $4. Returns no row when the record is exhausted, in which case
// nothing was written.
const QConsumeQuota = `--sql 0c9e4d7a-5f21-4b3c-8e6a-1d2f3a4b5c6d
insert into rate_limits as r (client_key, consumed, window_start)
values ($1::text, 1, $2::timestamptz)
on conflict (client_key) do update set
  consumed = case
    when r.window_start <= $2::timestamptz - make_interval(secs => $3::double precision) then 1
    else r.consumed + 1
  end,
  window_start = case
    when r.window_start <= $2::timestamptz - make_interval(secs => $3::double precision) then $2::timestamptz
    else r.window_start
  end
where r.window_start <= $2::timestamptz - make_interval(secs => $3::double precision)
   or r.consumed < $4::int
returning consumed, window_start;
`

// QSelectQuotaWindow reads the window start of an exhausted record.
const QSelectQuotaWindow = `--sql 5e8a2b4c-9d13-4f6e-a7b8-3c1d0e2f4a59
select window_start from rate_limits where client_key = $1::text;
`
