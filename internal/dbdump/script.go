package dbdump

// dumpScript is the self-contained POSIX shell "dump program" piped over
// SSH as the stdin of `bash -s`. It is preceded by a prelude of exported
// shell variables (see Config.buildPrelude) that carry the per-engine
// configuration spec.md §4.4 describes: type set or "auto", credential
// paths, hosts/ports, SQLite file list, retry count.
//
// The script never installs anything on the remote host: it probes for
// each engine's client binary, clears and re-creates its own scratch
// directory, dumps what it finds, and reports per-engine outcomes on
// stdout using the marker strings Classify recognizes.
const dumpScript = `
set -u
WORKDIR="$HOME/sql"
rm -rf "$WORKDIR"
mkdir -p "$WORKDIR"

want() {
  [ "$DB_TYPES" = "auto" ] && return 0
  case ",$DB_TYPES," in
    *",$1,"*) return 0 ;;
    *) return 1 ;;
  esac
}

retry() {
  n=0
  while [ "$n" -lt "$DB_DUMP_RETRIES" ]; do
    if "$@"; then return 0; fi
    n=$((n + 1))
  done
  return 1
}

if want mysql && command -v mysqldump >/dev/null 2>&1; then
  if [ -z "${MYSQL_PW_FILE:-}" ] || [ ! -f "$MYSQL_PW_FILE" ]; then
    echo "DBDUMP MISSING_PASSWORD mysql"
  else
    MYSQL_PWD=$(cat "$MYSQL_PW_FILE")
    export MYSQL_PWD
    dbs=$(mysql -h "$MYSQL_HOST" -N -e 'show databases' 2>"$WORKDIR/.mysql-list.err")
    if [ $? -ne 0 ]; then
      echo "DBDUMP MYSQL_LIST_FAIL $(cat "$WORKDIR/.mysql-list.err")"
    else
      for db in $dbs; do
        case "$db" in information_schema|performance_schema|mysql|sys) continue ;; esac
        if retry mysqldump -h "$MYSQL_HOST" "$db" > "$WORKDIR/mysql-$db.sql" 2>"$WORKDIR/.mysql-$db.err"; then
          echo "DBDUMP OK mysql $db"
        else
          if grep -qi 'access denied' "$WORKDIR/.mysql-$db.err"; then
            echo "DBDUMP MYSQL_AUTH_FAIL $db"
          else
            echo "DBDUMP FAIL mysql $db $(cat "$WORKDIR/.mysql-$db.err")"
          fi
        fi
      done
    fi
  fi
fi

if want postgres && command -v pg_dumpall >/dev/null 2>&1; then
  if retry pg_dumpall -h "$PG_HOST" -U "$PG_USER" > "$WORKDIR/postgres-all.sql" 2>"$WORKDIR/.pg.err"; then
    echo "DBDUMP OK postgres all"
  else
    if grep -qi 'password authentication failed' "$WORKDIR/.pg.err"; then
      echo "DBDUMP POSTGRES_AUTH_FAIL all"
    else
      echo "DBDUMP FAIL postgres all $(cat "$WORKDIR/.pg.err")"
    fi
  fi
fi

if want mongo && command -v mongodump >/dev/null 2>&1; then
  if retry mongodump --host "$MONGO_HOST" --authenticationDatabase "$MONGO_AUTH_DB" --archive="$WORKDIR/mongo.archive" 2>"$WORKDIR/.mongo.err"; then
    echo "DBDUMP OK mongo all"
  else
    echo "DBDUMP MONGO_DUMP_FAIL $(cat "$WORKDIR/.mongo.err")"
  fi
fi

if want redis && command -v redis-cli >/dev/null 2>&1; then
  if retry redis-cli -h "$REDIS_HOST" -p "$REDIS_PORT" --rdb "$WORKDIR/redis.rdb" 2>"$WORKDIR/.redis.err"; then
    echo "DBDUMP OK redis all"
  else
    echo "DBDUMP REDIS_BGSAVE_FAIL $(cat "$WORKDIR/.redis.err")"
  fi
fi

if want sqlite; then
  IFS=','
  for f in $SQLITE_PATHS; do
    [ -z "$f" ] && continue
    base=$(basename "$f")
    if [ -f "$f" ]; then
      cp "$f" "$WORKDIR/sqlite-$base"
      echo "DBDUMP OK sqlite $base"
    fi
  done
fi

rm -f "$WORKDIR"/.*.err
echo "DBDUMP DONE"
`
